// CLAUDE:SUMMARY Per-tab bounded screenshot history: capture gated by settings, arrival-ordered appends, most-recent-different selection.
// CLAUDE:EXPORTS PageSnapshot, History, Select, Manager, Capturer, Caption
package snapshot

// DefaultCapacity is the number of snapshots kept per tab.
const DefaultCapacity = 3

// PageSnapshot is one capture attempt. Exactly one of ImageData and Error
// is set.
type PageSnapshot struct {
	ID           string  `json:"id"`
	URL          string  `json:"url"`
	Title        string  `json:"title"`
	CapturedAtMs int64   `json:"capturedAtMs"`
	ImageData    *string `json:"imageData"`
	Error        *string `json:"error"`
}

// History is a tab's snapshots, newest first.
type History []PageSnapshot

// Push prepends s and drops whatever exceeds capacity.
func (h History) Push(s PageSnapshot, capacity int) History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	out := make(History, 0, min(len(h)+1, capacity))
	out = append(out, s)
	for _, old := range h {
		if len(out) == capacity {
			break
		}
		out = append(out, old)
	}
	return out
}

// Select returns the newest snapshot whose URL differs from currentURL,
// else the newest snapshot, else nil. An empty currentURL matches nothing,
// so the newest snapshot wins.
func Select(h History, currentURL string) *PageSnapshot {
	if len(h) == 0 {
		return nil
	}
	for i := range h {
		if currentURL == "" || h[i].URL != currentURL {
			s := h[i]
			return &s
		}
	}
	s := h[0]
	return &s
}
