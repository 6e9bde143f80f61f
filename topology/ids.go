package topology

import (
	"net"

	"github.com/rs/xid"
)

// newLinkID allocates an opaque, sortable link identifier. xid gives
// the same compact, globally-unique, time-ordered id the envd control
// surface uses for PTY channel ids; reused here for link ids rather
// than hand-rolling another id scheme.
func newLinkID() string {
	return "link-" + xid.New().String()
}

// sameSubnet reports whether addr falls on the /prefix network that ref
// belongs to.
func sameSubnet(ref, addr string, prefix int) bool {
	refIP := net.ParseIP(ref)
	addrIP := net.ParseIP(addr)
	if refIP == nil || addrIP == nil {
		return false
	}
	mask := net.CIDRMask(prefix, 32)
	return refIP.Mask(mask).Equal(addrIP.Mask(mask))
}
