package browser

import "github.com/bobch27/signupwatch/internal/forms"

// hook installed on every new document, forwards DOM events to the Go side
// through the runtime binding
const hookScript = `(() => {
	if (window.__signupwatchHooked) return;
	window.__signupwatchHooked = true;

	const emit = (payload) => {
		payload.t = Date.now();
		try {
			window.` + bindingName + `(JSON.stringify(payload));
		} catch (e) {
			// binding not attached yet
		}
	};

	// same key scheme as the Go form scanner, pinned on first sighting
	const keyAttr = '` + forms.KeyAttr + `';
	let formSeq = 0;
	const formKey = (form) => {
		const pinned = form.getAttribute(keyAttr);
		if (pinned) return pinned;

		const id = form.getAttribute('id');
		let key = id ? 'id:' + id : 'index:' + Array.prototype.indexOf.call(document.querySelectorAll('form'), form);
		const held = Array.prototype.some.call(document.querySelectorAll('form[' + keyAttr + ']'),
			(other) => other !== form && other.getAttribute(keyAttr) === key);
		if (held) key = 'seq:' + (formSeq++);

		form.setAttribute(keyAttr, key);
		return key;
	};

	const isRendered = (el) => {
		const style = window.getComputedStyle(el);
		return style.display !== 'none' && style.visibility !== 'hidden' && el.getClientRects().length > 0;
	};

	const serialiseForm = (form) => {
		const fields = [];
		form.querySelectorAll('input, select, textarea').forEach((el) => {
			const tag = el.tagName.toLowerCase();
			const type = (el.type || '').toLowerCase();
			if (type === 'submit') return;

			// values of these types never leave the page
			const secret = type === 'password' || type === 'hidden' || type === 'file';

			fields.push({
				tag: tag,
				type: type,
				name: el.getAttribute('name') || '',
				id: el.getAttribute('id') || '',
				value: secret ? '' : String(el.value || ''),
				placeholder: el.getAttribute('placeholder') || '',
				ariaLabel: el.getAttribute('aria-label') || '',
				autocomplete: el.getAttribute('autocomplete') || '',
				rendered: isRendered(el),
			});
		});

		const submitLabels = [];
		form.querySelectorAll('button[type="submit"], button:not([type]), input[type="submit"]').forEach((el) => {
			const label = el.tagName === 'INPUT' ?
				(el.value || '') :
				(el.textContent || el.getAttribute('aria-label') || '');
			if (label.trim()) submitLabels.push(label.trim());
		});

		return {
			key: formKey(form),
			action: form.getAttribute('action') || '',
			id: form.getAttribute('id') || '',
			class: form.getAttribute('class') || '',
			name: form.getAttribute('name') || '',
			fields: fields,
			submitLabels: submitLabels,
		};
	};

	const announce = (form) => emit({ kind: 'form_added', form: serialiseForm(form) });

	// capture phase so handlers calling stopPropagation don't hide the submit
	document.addEventListener('submit', (e) => {
		if (e.target && e.target.tagName === 'FORM') {
			emit({ kind: 'submit', form: serialiseForm(e.target) });
		}
	}, true);

	const observer = new MutationObserver((mutations) => {
		mutations.forEach((m) => {
			m.addedNodes.forEach((node) => {
				if (node.nodeType !== 1) return;
				if (node.tagName === 'FORM') announce(node);
				if (node.querySelectorAll) node.querySelectorAll('form').forEach(announce);
			});
		});
	});

	const start = () => {
		document.querySelectorAll('form').forEach(announce);
		observer.observe(document.documentElement, { childList: true, subtree: true });
	};
	if (document.readyState === 'loading') {
		document.addEventListener('DOMContentLoaded', start);
	} else {
		start();
	}

	// throttle raw input to one activity event per second
	let lastActivity = 0;
	const activity = () => {
		const now = Date.now();
		if (now - lastActivity < 1000) return;
		lastActivity = now;
		emit({ kind: 'activity' });
	};
	['mousemove', 'keydown', 'focusin', 'touchstart'].forEach((name) => {
		window.addEventListener(name, activity, { passive: true, capture: true });
	});

	document.addEventListener('click', (e) => {
		const el = e.target && e.target.nodeType === 1 ? e.target : null;
		if (!el) return;
		emit({
			kind: 'click',
			target: {
				tag: el.tagName.toLowerCase(),
				id: el.getAttribute('id') || '',
				class: typeof el.className === 'string' ? el.className : '',
			},
		});
	}, true);

	let lastScroll = 0;
	window.addEventListener('scroll', () => {
		const now = Date.now();
		if (now - lastScroll < 50) return;
		lastScroll = now;
		emit({
			kind: 'scroll',
			scroll: {
				top: window.scrollY || document.documentElement.scrollTop || 0,
				viewportHeight: window.innerHeight || 0,
				documentHeight: document.documentElement.scrollHeight || 0,
			},
		});
	}, { passive: true });

	document.addEventListener('visibilitychange', () => {
		emit({ kind: 'visibility', visible: document.visibilityState === 'visible' });
	});

	window.addEventListener('pagehide', () => emit({ kind: 'unload' }));

	// SPA navigations, rewrites made by replaceURLScript are not navigations
	const urlChanged = () => emit({ kind: 'url_change', url: location.href });
	['pushState', 'replaceState'].forEach((name) => {
		const orig = history[name];
		history[name] = function () {
			const result = orig.apply(this, arguments);
			if (!window.` + silentFlag + `) urlChanged();
			return result;
		};
	});
	window.addEventListener('popstate', urlChanged);
	window.addEventListener('hashchange', urlChanged);
})();`

// script showing the consent banner, %s is the JSON-quoted message
const bannerScript = `(() => {
	const existing = document.getElementById('signupwatch-consent');
	if (existing) existing.remove();

	const banner = document.createElement('div');
	banner.id = 'signupwatch-consent';
	banner.setAttribute('role', 'dialog');
	banner.style.cssText = 'position:fixed;left:0;right:0;bottom:0;z-index:2147483647;' +
		'padding:16px;background:#111;color:#fff;font:14px sans-serif;display:flex;gap:12px;align-items:center;';

	const text = document.createElement('span');
	text.textContent = %s;
	text.style.flex = '1';

	const decide = (accepted) => {
		banner.remove();
		window.` + bindingName + `(JSON.stringify({ kind: 'consent', accepted: accepted, t: Date.now() }));
	};

	const accept = document.createElement('button');
	accept.id = 'signupwatch-consent-accept';
	accept.textContent = 'Accept';
	accept.addEventListener('click', () => decide(true));

	const decline = document.createElement('button');
	decline.id = 'signupwatch-consent-decline';
	decline.textContent = 'Decline';
	decline.addEventListener('click', () => decide(false));

	banner.append(text, accept, decline);
	(document.body || document.documentElement).appendChild(banner);
	return true;
})()`

// script rewriting the address bar without reporting a url_change, %s is the
// JSON-quoted URL
const replaceURLScript = `(() => {
	window.` + silentFlag + ` = true;
	try {
		history.replaceState(history.state, '', %s);
	} finally {
		window.` + silentFlag + ` = false;
	}
	return true;
})()`

const removeBannerScript = `(() => {
	const banner = document.getElementById('signupwatch-consent');
	if (banner) banner.remove();
	return true;
})()`

const doNotTrackScript = `(() => {
	const values = [navigator.doNotTrack, window.doNotTrack, navigator.msDoNotTrack];
	return values.some((v) => v === '1' || v === 'yes');
})()`
