package browser

// collectorScript walks the document and returns a JSON string describing
// its elements. It is wrapped as (collectorScript)(opts) where opts is
// {max: number, content: bool}; content adds the body HTML and inner text.
const collectorScript = `function(opts) {
    const MAX = opts.max || 400;
    const CONTENT_CAP = 200000;
    const MODALS = '[role="dialog"],[role="alertdialog"],[aria-modal="true"],dialog[open],.modal.show,.modal.in,.modal.open';
    const CANDIDATES = 'a[href],button,input,textarea,select,[role="button"],[role="link"],[role="checkbox"],[role="textbox"],[role="menuitem"],[role="tab"],[contenteditable="true"],[onclick],h1,h2,h3,h4,label,p,li,td';

    function visible(el) {
        const r = el.getBoundingClientRect();
        if (r.width < 1 || r.height < 1) return false;
        const s = window.getComputedStyle(el);
        return s.visibility !== 'hidden' && s.display !== 'none' && s.opacity !== '0';
    }

    function esc(v) {
        return (window.CSS && CSS.escape) ? CSS.escape(v) : v.replace(/([^a-zA-Z0-9_-])/g, '\\$1');
    }

    function selectorOf(el) {
        if (el.id) return '#' + esc(el.id);
        const tag = el.tagName.toLowerCase();
        const name = el.getAttribute('name');
        if (name) {
            const byName = tag + '[name="' + name.replace(/"/g, '\\"') + '"]';
            if (document.querySelectorAll(byName).length === 1) return byName;
        }
        const testId = el.getAttribute('data-testid');
        if (testId) return '[data-testid="' + testId.replace(/"/g, '\\"') + '"]';
        const parts = [];
        let cur = el;
        while (cur && cur.nodeType === 1 && cur !== document.body && parts.length < 6) {
            let part = cur.tagName.toLowerCase();
            if (cur.id) {
                parts.unshift('#' + esc(cur.id));
                return parts.join(' > ');
            }
            const parent = cur.parentElement;
            if (parent) {
                const same = Array.from(parent.children).filter(c => c.tagName === cur.tagName);
                if (same.length > 1) part += ':nth-of-type(' + (same.indexOf(cur) + 1) + ')';
            }
            parts.unshift(part);
            cur = parent;
        }
        return parts.join(' > ');
    }

    function kindOf(el) {
        const tag = el.tagName.toLowerCase();
        const role = el.getAttribute('role');
        const type = (el.getAttribute('type') || '').toLowerCase();
        if (tag === 'a' || role === 'link') return 'link';
        if (tag === 'button' || role === 'button' || role === 'menuitem' || role === 'tab') return 'button';
        if (tag === 'input') {
            if (type === 'checkbox' || type === 'radio') return 'checkbox';
            if (type === 'submit' || type === 'button' || type === 'reset') return 'button';
            if (type === 'hidden') return 'other';
            return 'input';
        }
        if (role === 'checkbox') return 'checkbox';
        if (tag === 'textarea' || role === 'textbox' || el.isContentEditable) return 'textarea';
        if (tag === 'select') return 'select';
        if (/^(h[1-6]|p|li|td|label)$/.test(tag)) return 'text';
        if (el.hasAttribute('onclick')) return 'button';
        return 'other';
    }

    function textOf(el) {
        let t = el.innerText || el.value || el.getAttribute('aria-label') || el.getAttribute('placeholder') || el.getAttribute('title') || el.getAttribute('alt') || '';
        return String(t).replace(/\s+/g, ' ').trim().substring(0, 300);
    }

    const attrNames = ['id', 'name', 'type', 'href', 'placeholder', 'aria-label', 'role', 'title'];
    const modalKeys = new Map();
    const formKeys = new Map();
    function containerKey(cache, container) {
        if (!cache.has(container)) cache.set(container, selectorOf(container));
        return cache.get(container);
    }

    const out = { url: location.href, title: document.title, elements: [] };
    const seen = new Set();
    for (const el of document.querySelectorAll(CANDIDATES)) {
        if (out.elements.length >= MAX) break;
        if (seen.has(el)) continue;
        seen.add(el);
        const isVisible = visible(el);
        const kind = kindOf(el);
        if (!isVisible && kind === 'text') continue;
        const text = textOf(el);
        if (kind === 'text' && !text) continue;

        const attrs = {};
        for (const a of attrNames) {
            const v = el.getAttribute(a);
            if (v) attrs[a] = v.substring(0, 200);
        }
        const modal = el.closest(MODALS);
        if (modal) attrs.modal = containerKey(modalKeys, modal);
        const form = el.closest('form');
        if (form) attrs.form = containerKey(formKeys, form);

        out.elements.push({
            kind: kind,
            selector: selectorOf(el),
            text: text,
            attributes: attrs,
            in_modal: !!modal,
            in_form: !!form,
            visible: isVisible
        });
    }

    if (opts.content && document.body) {
        out.html = document.body.outerHTML.substring(0, CONTENT_CAP);
        out.text = (document.body.innerText || '').substring(0, CONTENT_CAP);
    }
    return JSON.stringify(out);
}`

// searchScript returns the selectors of visible elements whose own text
// contains the needle, case-insensitively. Wrapped as (searchScript)(needle, max).
const searchScript = `function(needle, max) {
    const want = String(needle).toLowerCase();
    const hits = [];
    const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_TEXT);
    while (walker.nextNode() && hits.length < max) {
        const node = walker.currentNode;
        if (!node.nodeValue || node.nodeValue.toLowerCase().indexOf(want) < 0) continue;
        const el = node.parentElement;
        if (!el) continue;
        const r = el.getBoundingClientRect();
        if (r.width < 1 || r.height < 1) continue;
        let sel = el.tagName.toLowerCase();
        if (el.id) {
            sel = '#' + ((window.CSS && CSS.escape) ? CSS.escape(el.id) : el.id);
        } else {
            const parts = [];
            let cur = el;
            while (cur && cur !== document.body && parts.length < 6) {
                let part = cur.tagName.toLowerCase();
                const parent = cur.parentElement;
                if (parent) {
                    const same = Array.from(parent.children).filter(c => c.tagName === cur.tagName);
                    if (same.length > 1) part += ':nth-of-type(' + (same.indexOf(cur) + 1) + ')';
                }
                parts.unshift(part);
                cur = parent;
            }
            sel = parts.join(' > ');
        }
        hits.push({ selector: sel, text: node.nodeValue.replace(/\s+/g, ' ').trim().substring(0, 120) });
    }
    if (hits.length > 0) {
        const first = document.querySelector(hits[0].selector);
        if (first) first.scrollIntoView({ block: 'center' });
    }
    return JSON.stringify(hits);
}`

// scrollScript scrolls the window. Wrapped as (scrollScript)(direction).
const scrollScript = `function(direction) {
    const step = window.innerHeight * 0.7;
    switch (direction) {
        case 'up': window.scrollBy(0, -step); break;
        case 'top': window.scrollTo(0, 0); break;
        case 'bottom': window.scrollTo(0, document.body.scrollHeight); break;
        default: window.scrollBy(0, step);
    }
    return Math.round(window.scrollY);
}`
