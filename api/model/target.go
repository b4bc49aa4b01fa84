package model

import (
	"fmt"
	"net"
	"strconv"
)

// DeployTarget is the remote host the deployment executor acts on.
// Enabled gates the deploy stage; a zero value is a safe no-op.
type DeployTarget struct {
	Host           string `json:"host" yaml:"host"`
	Port           int    `json:"port,omitempty" yaml:"port,omitempty"`
	User           string `json:"user" yaml:"user"`
	KeyRef         string `json:"keyRef" yaml:"keyRef"` // credential store key holding the private key
	KnownHostsFile string `json:"knownHostsFile,omitempty" yaml:"knownHostsFile,omitempty"`
	Enabled        bool   `json:"enabled" yaml:"enabled"`
}

// Addr returns host:port, defaulting to port 22.
func (t DeployTarget) Addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

func (t DeployTarget) String() string {
	return fmt.Sprintf("%s@%s", t.User, t.Addr())
}
