package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockable maps config names to the CDP resource types they block.
// Images, stylesheets and scripts are never blockable: without them the
// captured previews would not show the page the user saw.
var blockable = map[string]proto.NetworkResourceType{
	"fonts":  proto.NetworkResourceTypeFont,
	"font":   proto.NetworkResourceTypeFont,
	"media":  proto.NetworkResourceTypeMedia,
	"ping":   proto.NetworkResourceTypePing,
	"beacon": proto.NetworkResourceTypePing,
}

// blockSet resolves config names; unknown names are returned separately.
func blockSet(names []string) (set map[proto.NetworkResourceType]bool, unknown []string) {
	set = make(map[proto.NetworkResourceType]bool, len(names))
	for _, n := range names {
		rt, ok := blockable[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		set[rt] = true
	}
	return set, unknown
}

// applyResourceBlocking fails requests whose resource type is in types.
func applyResourceBlocking(page *rod.Page, types []string) error {
	set, unknown := blockSet(types)
	if len(unknown) > 0 {
		return &ErrUnblockable{Names: unknown}
	}
	if len(set) == 0 {
		return nil
	}

	router := page.HijackRequests()
	if err := router.Add("*", "", func(h *rod.Hijack) {
		if set[h.Request.Type()] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	}); err != nil {
		return err
	}
	go router.Run()
	return nil
}

// ErrUnblockable lists resource types that cannot be blocked.
type ErrUnblockable struct {
	Names []string
}

func (e *ErrUnblockable) Error() string {
	return "browser: cannot block resource types: " + strings.Join(e.Names, ", ")
}
