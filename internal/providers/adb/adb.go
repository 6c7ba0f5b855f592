package adb

import (
	"context"
	"strings"

	"github.com/httprunner/httprunner/v5/pkg/gadb"
	"github.com/pkg/errors"
)

// StateOnline is the gadb state of a device ready for commands.
const StateOnline = string(gadb.StateOnline)

// Provider exposes the adb operations the install channel needs, backed by gadb.
type Provider struct {
	client gadb.Client
}

// New creates a Provider backed by the given gadb client.
func New(client gadb.Client) *Provider {
	return &Provider{client: client}
}

// NewDefault creates a Provider using a default gadb client.
func NewDefault() (*Provider, error) {
	client, err := gadb.NewClient()
	if err != nil {
		return nil, errors.Wrap(err, "init adb client for provider")
	}
	return New(client), nil
}

// ListDevicesWithState returns device serials with their raw gadb state names.
func (p *Provider) ListDevicesWithState(ctx context.Context) (map[string]string, error) {
	if p == nil {
		return nil, errors.New("adb provider is nil")
	}
	devs, err := p.client.DeviceList()
	if err != nil {
		return nil, errors.Wrap(err, "list adb devices")
	}
	stateBySerial := make(map[string]string, len(devs))
	for _, dev := range devs {
		if dev == nil {
			continue
		}
		serial := strings.TrimSpace(dev.Serial())
		if serial == "" {
			continue
		}
		state, err := dev.State()
		if err != nil {
			stateBySerial[serial] = string(gadb.StateUnknown)
			continue
		}
		stateBySerial[serial] = string(state)
	}
	return stateBySerial, nil
}

// Push copies a local file onto the device.
func (p *Provider) Push(ctx context.Context, serial, localPath, remotePath string) error {
	dev, err := p.device(serial)
	if err != nil {
		return err
	}
	if err := dev.PushFile(localPath, remotePath); err != nil {
		return errors.Wrapf(err, "push %s to %s", localPath, serial)
	}
	return nil
}

// RunShell executes a shell command on the given device serial.
func (p *Provider) RunShell(serial string, args ...string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("adb provider: empty shell command")
	}
	dev, err := p.device(serial)
	if err != nil {
		return "", err
	}
	return dev.RunShellCommand(args[0], args[1:]...)
}

func (p *Provider) device(serial string) (*gadb.Device, error) {
	if p == nil {
		return nil, errors.New("adb provider is nil")
	}
	devs, err := p.client.DeviceList()
	if err != nil {
		return nil, errors.Wrap(err, "list adb devices")
	}
	target := strings.TrimSpace(serial)
	for _, d := range devs {
		if d == nil {
			continue
		}
		if strings.TrimSpace(d.Serial()) == target {
			return d, nil
		}
	}
	return nil, errors.Errorf("device %s not found", serial)
}
