package stealth

import (
	"encoding/json"
	"fmt"
	"strings"
)

// InitScripts returns the JavaScript sources to install as init scripts
// for a context using the given profile, in injection order. They run
// before any page script; that ordering is what makes the overrides
// invisible.
func InitScripts(cfg Config, profile *DeviceProfile) []string {
	scripts := []string{navigatorScript(profile), permissionsScript}
	if cfg.FingerprintPatches() {
		scripts = append(scripts,
			canvasScript(profile.Seed),
			webglScript(profile.WebGLVendor, profile.WebGLRenderer),
			audioScript(profile.Seed),
			webrtcScript,
		)
	}
	return scripts
}

// navigatorScript fixes the always-on surface: automation flag,
// languages, plugins, hardware hints, platform.
func navigatorScript(p *DeviceProfile) string {
	langs, _ := json.Marshal(p.Languages())
	return strings.NewReplacer(
		"__PLATFORM__", p.Platform,
		"__LANGUAGES__", string(langs),
		"__CORES__", fmt.Sprint(p.HardwareConcurrency),
		"__MEMORY__", fmt.Sprint(p.DeviceMemory),
	).Replace(`(() => {
  'use strict';
  if (window.__fpApplied) return;
  window.__fpApplied = true;

  Object.defineProperty(navigator, 'webdriver', { get: () => undefined, configurable: true });
  Object.defineProperty(navigator, 'platform', { get: () => '__PLATFORM__', configurable: true });
  Object.defineProperty(navigator, 'languages', { get: () => __LANGUAGES__, configurable: true });
  Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => __CORES__, configurable: true });
  Object.defineProperty(navigator, 'deviceMemory', { get: () => __MEMORY__, configurable: true });

  Object.defineProperty(navigator, 'plugins', {
    get: () => {
      const plugins = [
        { name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
        { name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai', description: '' },
        { name: 'Native Client', filename: 'internal-nacl-plugin', description: '' },
      ];
      plugins.item = (i) => plugins[i] || null;
      plugins.namedItem = (n) => plugins.find((p) => p.name === n) || null;
      plugins.refresh = () => {};
      return plugins;
    },
    configurable: true,
  });

  if (!window.chrome) window.chrome = {};
  if (!window.chrome.runtime) {
    window.chrome.runtime = {
      connect: () => ({ onMessage: { addListener: () => {} }, postMessage: () => {} }),
      sendMessage: () => {},
      onMessage: { addListener: () => {} },
      id: undefined,
    };
  }
})();`)
}

// permissionsScript makes the notifications permission query agree with
// Notification.permission instead of reporting denied.
const permissionsScript = `(() => {
  'use strict';
  if (!(window.navigator && navigator.permissions && navigator.permissions.query)) return;
  const originalQuery = navigator.permissions.query.bind(navigator.permissions);
  navigator.permissions.query = (parameters) => {
    if (parameters && parameters.name === 'notifications') {
      return Promise.resolve({
        state: typeof Notification !== 'undefined' ? Notification.permission : 'default',
        onchange: null,
      });
    }
    return originalQuery(parameters);
  };
})();`

// canvasScript perturbs canvas readback. The noise at each pixel is a
// pure function of the session seed and the pixel index, and readback
// goes through a perturbed copy while the live canvas stays untouched:
// reading an identical canvas any number of times within a session
// yields identical bytes, and only the seed changes across sessions.
func canvasScript(seed int64) string {
	return fmt.Sprintf(`(() => {
  'use strict';
  const SEED = (%d >>> 0) || 0x9e3779b9;
  const noiseAt = (i) => {
    let h = (SEED ^ i) >>> 0;
    h = Math.imul(h ^ (h >>> 16), 0x45d9f3b) >>> 0;
    h = Math.imul(h ^ (h >>> 16), 0x45d9f3b) >>> 0;
    h ^= h >>> 16;
    return (h >>> 0) / 0xffffffff;
  };

  const perturb = (data) => {
    for (let i = 0; i < data.length; i += 4) {
      if (noiseAt(i) < 0.05) {
        data[i] = Math.min(255, Math.max(0, data[i] + (noiseAt(i + 1) < 0.5 ? -1 : 1)));
      }
    }
  };

  const origGetImageData = CanvasRenderingContext2D.prototype.getImageData;
  CanvasRenderingContext2D.prototype.getImageData = function (...args) {
    const imageData = origGetImageData.apply(this, args);
    perturb(imageData.data);
    return imageData;
  };

  const withNoise = (canvas, fn) => {
    const ctx = canvas.getContext('2d');
    if (!ctx || canvas.width === 0 || canvas.height === 0) return fn(canvas);
    try {
      const imageData = origGetImageData.call(ctx, 0, 0, canvas.width, canvas.height);
      perturb(imageData.data);
      const copy = document.createElement('canvas');
      copy.width = canvas.width;
      copy.height = canvas.height;
      copy.getContext('2d').putImageData(imageData, 0, 0);
      return fn(copy);
    } catch (e) {
      return fn(canvas); // tainted canvas
    }
  };

  const origToDataURL = HTMLCanvasElement.prototype.toDataURL;
  HTMLCanvasElement.prototype.toDataURL = function (...args) {
    return withNoise(this, (c) => origToDataURL.apply(c, args));
  };

  const origToBlob = HTMLCanvasElement.prototype.toBlob;
  HTMLCanvasElement.prototype.toBlob = function (...args) {
    return withNoise(this, (c) => origToBlob.apply(c, args));
  };
})();`, uint32(seed))
}

// webglScript reports the profile's GPU for the unmasked vendor and
// renderer constants on both WebGL generations.
func webglScript(vendor, renderer string) string {
	v, _ := json.Marshal(vendor)
	r, _ := json.Marshal(renderer)
	return fmt.Sprintf(`(() => {
  'use strict';
  const UNMASKED_VENDOR_WEBGL = 37445;
  const UNMASKED_RENDERER_WEBGL = 37446;
  ['WebGLRenderingContext', 'WebGL2RenderingContext'].forEach((name) => {
    const ctx = window[name];
    if (!ctx || !ctx.prototype) return;
    const origGetParameter = ctx.prototype.getParameter;
    if (typeof origGetParameter !== 'function') return;
    ctx.prototype.getParameter = function (param) {
      if (param === UNMASKED_VENDOR_WEBGL) return %s;
      if (param === UNMASKED_RENDERER_WEBGL) return %s;
      return origGetParameter.call(this, param);
    };
  });
})();`, v, r)
}

// audioScript softens audio fingerprints with noise far below the
// audible threshold.
func audioScript(seed int64) string {
	return fmt.Sprintf(`(() => {
  'use strict';
  if (typeof AudioBuffer === 'undefined') return;
  let state = (%d ^ 0x5bd1e995) >>> 0;
  if (state === 0) state = 1;
  const next = () => {
    state ^= state << 13; state >>>= 0;
    state ^= state >> 17;
    state ^= state << 5; state >>>= 0;
    return state / 0xffffffff;
  };
  const origGetChannelData = AudioBuffer.prototype.getChannelData;
  AudioBuffer.prototype.getChannelData = function (...args) {
    const data = origGetChannelData.apply(this, args);
    if (!data.__noised) {
      for (let i = 0; i < data.length; i += 100) {
        data[i] += (next() - 0.5) * 1e-7;
      }
      try { Object.defineProperty(data, '__noised', { value: true }); } catch (e) {}
    }
    return data;
  };
})();`, uint32(seed))
}

// webrtcScript hides the real local IP from ICE candidates and gives
// enumerateDevices a plausible default list.
const webrtcScript = `(() => {
  'use strict';
  const ipPattern = /(\d{1,3}\.){3}\d{1,3}/g;
  const scrub = (sdpOrCandidate) =>
    typeof sdpOrCandidate === 'string' ? sdpOrCandidate.replace(ipPattern, '0.0.0.0') : sdpOrCandidate;

  if (typeof RTCPeerConnection !== 'undefined') {
    const OrigRTC = RTCPeerConnection;
    window.RTCPeerConnection = function (...args) {
      const pc = new OrigRTC(...args);
      const origAddEventListener = pc.addEventListener.bind(pc);
      pc.addEventListener = (type, listener, ...rest) => {
        if (type === 'icecandidate' && typeof listener === 'function') {
          const wrapped = (event) => {
            if (event && event.candidate && event.candidate.candidate) {
              try {
                Object.defineProperty(event.candidate, 'candidate', {
                  value: scrub(event.candidate.candidate),
                });
              } catch (e) {}
            }
            return listener(event);
          };
          return origAddEventListener(type, wrapped, ...rest);
        }
        return origAddEventListener(type, listener, ...rest);
      };
      return pc;
    };
    window.RTCPeerConnection.prototype = OrigRTC.prototype;
  }

  if (navigator.mediaDevices && navigator.mediaDevices.enumerateDevices) {
    const origEnumerate = navigator.mediaDevices.enumerateDevices.bind(navigator.mediaDevices);
    navigator.mediaDevices.enumerateDevices = async () => {
      const devices = await origEnumerate();
      if (devices.length > 0) return devices;
      return [
        { deviceId: 'default', kind: 'audioinput', label: '', groupId: 'default-group' },
        { deviceId: 'default', kind: 'audiooutput', label: '', groupId: 'default-group' },
        { deviceId: 'default', kind: 'videoinput', label: '', groupId: 'default-group' },
      ];
    };
  }
})();`
