package browser

import (
	"encoding/json"
	"fmt"
)

// jsString renders a Go string as a JS string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// bootstrapJS builds the page agent installed on every document. It keeps a
// compact transcript snapshot current via a MutationObserver: the identity
// tag of the streaming container, whether a response is still streaming, and
// the visible response text with collapsed reasoning sub-regions excluded
// and whitespace normalized.
func bootstrapJS(streamingSel, responseSel string) string {
	return fmt.Sprintf(`(() => {
  if (window.__relayAgent) return;
  let turnCounter = 0;
  const agent = {
    snapshot: { streamId: "", streaming: false, text: "" },
    status: "disconnected",
  };
  window.__relayAgent = agent;

  const collapsed = (node) => {
    for (let n = node; n && n !== document.body; n = n.parentElement) {
      const cs = getComputedStyle(n);
      if (parseFloat(cs.opacity) === 0 || n.offsetHeight === 0) return true;
    }
    return false;
  };

  const extract = (root) => {
    if (!root) return "";
    const walker = document.createTreeWalker(root, NodeFilter.SHOW_TEXT);
    const parts = [];
    let tn;
    while ((tn = walker.nextNode())) {
      if (!tn.parentElement || collapsed(tn.parentElement)) continue;
      parts.push(tn.textContent);
    }
    return parts.join(" ").replace(/\s+/g, " ").trim();
  };

  const refresh = () => {
    const streaming = document.querySelector(%s);
    if (streaming) {
      if (!streaming.__relayTurn) {
        streaming.__relayTurn = "turn-" + (++turnCounter) + "-" + Date.now();
      }
      agent.snapshot = {
        streamId: streaming.__relayTurn,
        streaming: true,
        text: extract(streaming),
      };
      return;
    }
    const responses = document.querySelectorAll(%s);
    const last = responses.length ? responses[responses.length - 1] : null;
    agent.snapshot = { streamId: "", streaming: false, text: extract(last) };
  };

  const observe = () => {
    if (!document.body) return;
    new MutationObserver(refresh).observe(document.body, {
      childList: true,
      subtree: true,
      characterData: true,
    });
    refresh();
  };
  if (document.body) observe();
  else document.addEventListener("DOMContentLoaded", observe);

  agent.toast = (kind, text) => {
    const el = document.createElement("div");
    el.textContent = text;
    el.style.cssText = "position:fixed;bottom:16px;right:16px;z-index:99999;" +
      "padding:8px 14px;border-radius:6px;font:13px sans-serif;color:#fff;" +
      "background:" + (kind === "error" ? "#c0392b" : "#2c3e50");
    document.body.appendChild(el);
    setTimeout(() => el.remove(), 4000);
  };
})();`, jsString(streamingSel), jsString(responseSel))
}

// queryJS probes one selector: "missing", "found" (present but disabled),
// "usable", or "error:<message>" when the selector itself is unsupported.
func queryJS(selector string) string {
	return fmt.Sprintf(`(() => {
  try {
    const el = document.querySelector(%s);
    if (!el) return "missing";
    const disabled = el.disabled === true || el.getAttribute("aria-disabled") === "true";
    return disabled ? "found" : "usable";
  } catch (e) {
    return "error:" + e.message;
  }
})()`, jsString(selector))
}

// injectJS makes the host page's editor observe externally constructed text
// as if it had been typed: focus, append on a new line (composing with any
// unsent content instead of clobbering it), caret to the end, then the
// synthetic input/keyboard events a reactive framework needs to notice a
// plain property mutation.
func injectJS(selector, text string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return "missing";
  try {
    el.focus();
    const t = %s;
    if (el.tagName === "TEXTAREA" || el.tagName === "INPUT") {
      el.value = el.value ? el.value + "\n" + t : t;
      el.setSelectionRange(el.value.length, el.value.length);
    } else {
      const existing = (el.innerText || "").trim();
      const p = document.createElement("p");
      p.textContent = t;
      if (existing) el.appendChild(p);
      else { el.innerHTML = ""; el.appendChild(p); }
      const range = document.createRange();
      range.selectNodeContents(el);
      range.collapse(false);
      const sel = window.getSelection();
      sel.removeAllRanges();
      sel.addRange(range);
    }
    el.dispatchEvent(new InputEvent("input", { bubbles: true, inputType: "insertText", data: t }));
    el.dispatchEvent(new Event("change", { bubbles: true }));
    el.dispatchEvent(new KeyboardEvent("keyup", { bubbles: true }));
    return "ok";
  } catch (e) {
    return "error:" + e.message;
  }
})()`, jsString(selector), jsString(text))
}

// attachJS delivers a file to the page through two independent strategies:
// a synthetic drag-and-drop sequence at the drop target, and directly
// populating the hidden file input. Different host-page builds observe
// different mechanisms, so both are always attempted and each is guarded so
// one's exception cannot suppress the other's attempt.
func attachJS(dropSel, inputSel, dataB64, filename, mimeType string) string {
	return fmt.Sprintf(`(() => {
  const bytes = Uint8Array.from(atob(%s), (c) => c.charCodeAt(0));
  const file = new File([bytes], %s, { type: %s });
  const dt = new DataTransfer();
  dt.items.add(file);
  const result = { drop: false, input: false, errors: [] };

  try {
    const target = document.querySelector(%s);
    if (target) {
      for (const type of ["dragenter", "dragover", "drop"]) {
        target.dispatchEvent(new DragEvent(type, {
          bubbles: true,
          cancelable: true,
          dataTransfer: dt,
        }));
      }
      result.drop = true;
    }
  } catch (e) {
    result.errors.push("drop: " + e.message);
  }

  try {
    const input = document.querySelector(%s);
    if (input) {
      input.files = dt.files;
      input.dispatchEvent(new Event("change", { bubbles: true }));
      input.dispatchEvent(new Event("input", { bubbles: true }));
      result.input = true;
    }
  } catch (e) {
    result.errors.push("input: " + e.message);
  }

  return JSON.stringify(result);
})()`, jsString(dataB64), jsString(filename), jsString(mimeType), jsString(dropSel), jsString(inputSel))
}

// clickJS clicks the first element matching selector.
func clickJS(selector string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return "missing";
  try { el.click(); return "ok"; } catch (e) { return "error:" + e.message; }
})()`, jsString(selector))
}

// diagnosticsJS enumerates elements matching the debug selector set, to aid
// recovery when the host page's markup changes.
func diagnosticsJS(debugSelectors []string) string {
	sels, _ := json.Marshal(debugSelectors)
	return fmt.Sprintf(`(() => {
  const out = [];
  for (const sel of %s) {
    try {
      document.querySelectorAll(sel).forEach((el) => {
        out.push({
          selector: sel,
          tag: el.tagName.toLowerCase(),
          id: el.id || "",
          classes: (el.className && el.className.toString ? el.className.toString() : "").slice(0, 120),
          aria: el.getAttribute("aria-label") || "",
          disabled: el.disabled === true,
        });
      });
    } catch (e) { /* unsupported selector, skip */ }
  }
  return JSON.stringify(out);
})()`, string(sels))
}

// snapshotJS reads the page agent's current transcript snapshot.
const snapshotJS = `(() => window.__relayAgent ? JSON.stringify(window.__relayAgent.snapshot) : "")()`

// toastJS surfaces a short-lived notification inside the page.
func toastJS(kind, text string) string {
	return fmt.Sprintf(`(() => { if (window.__relayAgent) window.__relayAgent.toast(%s, %s); })()`,
		jsString(kind), jsString(text))
}

// statusJS records the transport state on the page agent.
func statusJS(state string) string {
	return fmt.Sprintf(`(() => { if (window.__relayAgent) window.__relayAgent.status = %s; })()`,
		jsString(state))
}
