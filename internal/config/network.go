package config

import (
	"net"
	"strings"
)

var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// vpnMarkers are interface name fragments used by common VPN adapters.
var vpnMarkers = []string{"tun", "tap", "wg", "ppp", "warp"}

type netInterface struct {
	Name  string
	Flags net.Flags
	Addrs []net.Addr
}

// ShouldForceRelay reports whether the host looks like it sits behind a VPN
// or carrier-grade NAT, where direct peer-to-peer paths rarely work.
func ShouldForceRelay() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	list := make([]netInterface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, _ := iface.Addrs()
		list = append(list, netInterface{Name: iface.Name, Flags: iface.Flags, Addrs: addrs})
	}
	return restrictiveNetwork(list)
}

func restrictiveNetwork(ifaces []netInterface) bool {
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		name := strings.ToLower(iface.Name)
		for _, marker := range vpnMarkers {
			if strings.Contains(name, marker) {
				return true
			}
		}

		for _, addr := range iface.Addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip != nil && cgnatBlock.Contains(ip) {
				return true
			}
		}
	}
	return false
}
