package onvif

import (
	"net"
	"strings"

	"github.com/juju/errors"
)

// ResolveFunc maps a MAC address to the IPv4 address of the interface
// carrying it
type ResolveFunc func(mac string) (string, error)

// ResolveMAC looks up the first IPv4 address of the host interface with the
// given MAC address. Typically these are macvlan interfaces created for the
// virtual devices.
func ResolveMAC(mac string) (string, error) {
	want, err := net.ParseMAC(mac)
	if err != nil {
		return "", errors.NotValidf("MAC address %q", mac)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return "", errors.Annotate(err, "failed to list network interfaces")
	}

	for _, iface := range ifaces {
		if !strings.EqualFold(iface.HardwareAddr.String(), want.String()) {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			return "", errors.Annotatef(err, "failed to read addresses of %s", iface.Name)
		}
		if ip := firstIPv4(addrs); ip != nil {
			return ip.String(), nil
		}
	}

	return "", errors.NotFoundf("IPv4 interface with MAC %s", mac)
}

func firstIPv4(addrs []net.Addr) net.IP {
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil {
			return ip4
		}
	}
	return nil
}

// interfaceByIP returns the interface an IPv4 address is assigned to
func interfaceByIP(ip string) (*net.Interface, error) {
	want := net.ParseIP(ip)
	if want == nil {
		return nil, errors.NotValidf("IP address %q", ip)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, errors.Annotate(err, "failed to list network interfaces")
	}

	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.Equal(want) {
				return &ifaces[i], nil
			}
		}
	}

	return nil, errors.NotFoundf("interface with address %s", ip)
}
