package sip

import (
	"fmt"
	"sync"
)

// Account is the SIP registration identity handed to the transport driver.
type Account struct {
	User   string
	Domain string
	Passwd string
	Proxy  string
}

// Transport is a running SIP/media stack. Start registers the account and
// begins delivering signaling callbacks to the sink on the media thread.
type Transport interface {
	Start(sink EventSink) error
	Stop() error
}

// DriverFunc builds a Transport for an account.
type DriverFunc func(account Account) (Transport, error)

var (
	driverMu sync.Mutex
	driver   DriverFunc
)

// RegisterDriver installs the transport driver. Called from the driver
// package's init; last registration wins.
func RegisterDriver(fn DriverFunc) {
	driverMu.Lock()
	defer driverMu.Unlock()
	driver = fn
}

// NewTransport builds a transport from the registered driver.
func NewTransport(account Account) (Transport, error) {
	driverMu.Lock()
	fn := driver
	driverMu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("no SIP transport driver registered")
	}
	return fn(account)
}
