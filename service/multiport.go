package service

import (
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// portRange matches "host:port" or "host:minport-maxport", letting a
// single configured listen address expand into several bound sockets for
// simple load spreading across a firewall's port-forward rules.
var portRange = regexp.MustCompile(`^(.*):([0-9]{1,5})-?([0-9]{1,5})?$`)

// expandListenAddr expands addr into the concrete "host:port" addresses a
// Service should bind. A plain "host:port" address expands to itself
// unchanged, including "host:0" (an OS-assigned ephemeral port);
// "host:minport-maxport" expands to one address per port in the inclusive
// range. Malformed ranges (max < min, either bound out of 1-65535) and a
// single port above 65535 are a configuration error, fatal to the Service
// at start like any other unparseable listen address.
func expandListenAddr(addr string) ([]string, error) {
	matches := portRange.FindStringSubmatch(addr)
	if matches == nil {
		return []string{addr}, nil
	}

	host := matches[1]
	minPort, err := strconv.Atoi(matches[2])
	if err != nil {
		return nil, errors.Wrapf(err, "service: parse port in %q", addr)
	}
	maxPort := minPort
	if matches[3] != "" {
		maxPort, err = strconv.Atoi(matches[3])
		if err != nil {
			return nil, errors.Wrapf(err, "service: parse port range in %q", addr)
		}
	}
	if matches[3] == "" && minPort == 0 {
		// Port 0 asks the kernel for an ephemeral port: nothing to expand.
		return []string{addr}, nil
	}
	if minPort == 0 || maxPort == 0 || minPort > maxPort || minPort > 65535 || maxPort > 65535 {
		return nil, errors.Errorf("service: invalid port range in %q (min=%d max=%d)", addr, minPort, maxPort)
	}

	addrs := make([]string, 0, maxPort-minPort+1)
	for port := minPort; port <= maxPort; port++ {
		addrs = append(addrs, host+":"+strconv.Itoa(port))
	}
	return addrs, nil
}
