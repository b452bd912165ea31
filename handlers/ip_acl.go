package handlers

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"cosmicwatch/models"

	"github.com/gin-gonic/gin"
)

// IPAccessControl filters admin requests by client address. Deny entries win.
type IPAccessControl struct {
	allow []*net.IPNet
	deny  []*net.IPNet
}

// NewIPAccessControl parses CIDRs or bare IPs. It returns nil when both
// lists are empty, and a nil *IPAccessControl allows everything.
func NewIPAccessControl(allowCIDRs, denyCIDRs []string) (*IPAccessControl, error) {
	acl := &IPAccessControl{}

	var err error
	acl.allow, err = parseNets(allowCIDRs)
	if err != nil {
		return nil, fmt.Errorf("invalid admin allow list: %w", err)
	}
	acl.deny, err = parseNets(denyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("invalid admin deny list: %w", err)
	}

	if len(acl.allow) == 0 && len(acl.deny) == 0 {
		return nil, nil
	}
	return acl, nil
}

func parseNets(list []string) ([]*net.IPNet, error) {
	out := make([]*net.IPNet, 0, len(list))
	for _, raw := range list {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		n, err := parseCIDROrIP(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (a *IPAccessControl) Allows(ip net.IP) bool {
	if a == nil {
		return true
	}
	if ip == nil {
		return false
	}

	for _, n := range a.deny {
		if n.Contains(ip) {
			return false
		}
	}

	if len(a.allow) == 0 {
		return true
	}
	for _, n := range a.allow {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Middleware rejects requests from addresses the ACL does not allow.
func (a *IPAccessControl) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a == nil {
			c.Next()
			return
		}
		if !a.Allows(net.ParseIP(c.ClientIP())) {
			abortV2(c, http.StatusForbidden, models.CodeForbidden, "Address not allowed")
			return
		}
		c.Next()
	}
}

func parseCIDROrIP(value string) (*net.IPNet, error) {
	if strings.Contains(value, "/") {
		_, ipNet, err := net.ParseCIDR(value)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q", value)
		}
		return ipNet, nil
	}

	ip := net.ParseIP(value)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP %q", value)
	}
	if ip4 := ip.To4(); ip4 != nil {
		return &net.IPNet{IP: ip4, Mask: net.CIDRMask(32, 32)}, nil
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}, nil
}
