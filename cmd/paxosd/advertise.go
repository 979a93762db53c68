package main

import (
	"context"
	"fmt"
	"net"

	"github.com/go-kit/kit/log"
	"github.com/hashicorp/go-sockaddr"
	"github.com/pkg/errors"
)

// calculateAdvertiseIP deduces the IP this node should tell peers to
// reach it on, preferring an explicit -advertise host, falling back to
// go-sockaddr's private-IP heuristic when bound to all-zeroes, and
// otherwise resolving the bind host directly. Adapted from the
// bind/advertise split a caspaxos-style cluster bootstrap needs when a
// node's listen address (0.0.0.0) isn't something peers can dial.
func calculateAdvertiseIP(bindHost, advertiseHost string, logger log.Logger) (net.IP, error) {
	if advertiseHost != "" {
		if ip := net.ParseIP(advertiseHost); ip != nil {
			return ip, nil
		}
		ips, err := net.DefaultResolver.LookupIPAddr(context.Background(), advertiseHost)
		if err == nil && len(ips) == 1 {
			return ips[0].IP, nil
		}
		logger.Log("msg", "advertise host did not resolve to exactly one IP, falling back to bind host", "advertise", advertiseHost, "error", err)
	}

	if bindHost == "" || bindHost == "0.0.0.0" || bindHost == "::" {
		privateIP, err := sockaddr.GetPrivateIP()
		if err != nil {
			return nil, errors.Wrap(err, "failed to deduce private IP from all-zeroes bind address")
		}
		if privateIP == "" {
			return nil, errors.New("no private IP found, and explicit -advertise not provided")
		}
		ip := net.ParseIP(privateIP)
		if ip == nil {
			return nil, errors.Errorf("failed to parse private IP %q", privateIP)
		}
		return ip, nil
	}

	if ip := net.ParseIP(bindHost); ip != nil {
		return ip, nil
	}

	ips, err := net.DefaultResolver.LookupIPAddr(context.Background(), bindHost)
	if err != nil {
		return nil, errors.Wrap(err, "bind host failed to resolve")
	}
	if len(ips) != 1 {
		return nil, fmt.Errorf("bind host %q resolved to %d IPs", bindHost, len(ips))
	}
	return ips[0].IP, nil
}
