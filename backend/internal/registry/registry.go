// Package registry announces the session listener to consul so clients can
// discover it.
package registry

import (
	"fmt"
	"net"
	"strconv"

	"github.com/hashicorp/consul/api"
)

type Registry struct {
	client *api.Client
	id     string
}

func New(addr string) (*Registry, error) {
	cfg := api.DefaultConfig()
	cfg.Address = addr
	cli, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client %s: %w", addr, err)
	}
	return &Registry{client: cli}, nil
}

// Registration describes the session service with a TCP health check on its port.
func Registration(service, nodeID, listenAddr string) (*api.AgentServiceRegistration, error) {
	host, portStr, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return nil, fmt.Errorf("parse listen address %q: %w", listenAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parse port %q: %w", portStr, err)
	}
	checkHost := host
	// a wildcard listener is advertised with the agent's own address
	if host == "" || host == "0.0.0.0" || host == "::" {
		host, checkHost = "", "127.0.0.1"
	}
	if nodeID == "" {
		nodeID = fmt.Sprintf("%s-%d", service, port)
	}
	return &api.AgentServiceRegistration{
		ID:      nodeID,
		Name:    service,
		Address: host,
		Port:    port,
		Tags:    []string{"binary", "session"},
		Check: &api.AgentServiceCheck{
			TCP:                            net.JoinHostPort(checkHost, portStr),
			Interval:                       "10s",
			Timeout:                        "2s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}, nil
}

func (r *Registry) Register(service, nodeID, listenAddr string) error {
	reg, err := Registration(service, nodeID, listenAddr)
	if err != nil {
		return err
	}
	if err := r.client.Agent().ServiceRegister(reg); err != nil {
		return fmt.Errorf("register %s: %w", reg.ID, err)
	}
	r.id = reg.ID
	return nil
}

// Deregister removes the service registered by Register, if any.
func (r *Registry) Deregister() error {
	if r.id == "" {
		return nil
	}
	if err := r.client.Agent().ServiceDeregister(r.id); err != nil {
		return fmt.Errorf("deregister %s: %w", r.id, err)
	}
	r.id = ""
	return nil
}
