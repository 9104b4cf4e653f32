// internal/discovery/scanner.go
package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"github.com/UltimaRobotics/ur-mavdiscovery/internal/model"
)

const defaultSysfsTTY = "/sys/class/tty"

// PortLister enumerates serial ports with their USB details
type PortLister func() ([]*enumerator.PortDetails, error)

// Scanner lists the template-matching character devices of a directory
type Scanner struct {
	devDir    string
	sysfsTTY  string
	templates *Templates
	listPorts PortLister
	logger    *zap.Logger
}

// ScannerOption configures a Scanner
type ScannerOption func(*Scanner)

// WithSysfsRoot overrides /sys/class/tty
func WithSysfsRoot(dir string) ScannerOption {
	return func(s *Scanner) { s.sysfsTTY = dir }
}

// WithPortLister overrides the USB port enumerator
func WithPortLister(fn PortLister) ScannerOption {
	return func(s *Scanner) { s.listPorts = fn }
}

// NewScanner creates a scanner over devDir
func NewScanner(devDir string, templates *Templates, logger *zap.Logger, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		devDir:    devDir,
		sysfsTTY:  defaultSysfsTTY,
		templates: templates,
		listPorts: enumerator.GetDetailedPortsList,
		logger:    logger.With(zap.String("scanner", "serial")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DevDir returns the scanned directory
func (s *Scanner) DevDir() string {
	return s.devDir
}

// Templates returns the matcher used by the scanner
func (s *Scanner) Templates() *Templates {
	return s.templates
}

// Scan returns the monitored devices currently present, sorted by path
func (s *Scanner) Scan(ctx context.Context) ([]model.PortInfo, error) {
	entries, err := os.ReadDir(s.devDir)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", s.devDir, err)
	}

	details := s.usbDetails()

	var ports []model.PortInfo
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return ports, ctx.Err()
		default:
		}

		if entry.IsDir() || !s.templates.Match(entry.Name()) {
			continue
		}
		ports = append(ports, s.describe(entry.Name(), details))
	}

	sort.Slice(ports, func(i, j int) bool { return ports[i].DevPath < ports[j].DevPath })
	s.logger.Debug("Serial scan completed", zap.Int("devices_found", len(ports)))
	return ports, nil
}

// Describe returns what is known about a single device name
func (s *Scanner) Describe(name string) model.PortInfo {
	return s.describe(name, s.usbDetails())
}

func (s *Scanner) describe(name string, details map[string]*enumerator.PortDetails) model.PortInfo {
	info := model.PortInfo{
		DevPath: filepath.Join(s.devDir, name),
		DevName: name,
	}

	if d, ok := details[name]; ok && d.IsUSB {
		info.VID = strings.ToLower(d.VID)
		info.PID = strings.ToLower(d.PID)
		info.Serial = d.SerialNumber
		info.Product = d.Product
		info.USBInfoAvailable = true
	}

	// The enumerator leaves manufacturer and product empty on linux.
	if dir, ok := s.usbDeviceDir(name); ok {
		info.USBInfoAvailable = true
		fill(&info.VID, readAttr(dir, "idVendor"))
		fill(&info.PID, readAttr(dir, "idProduct"))
		fill(&info.Serial, readAttr(dir, "serial"))
		fill(&info.Manufacturer, readAttr(dir, "manufacturer"))
		fill(&info.Product, readAttr(dir, "product"))
	}
	return info
}

func (s *Scanner) usbDetails() map[string]*enumerator.PortDetails {
	details := make(map[string]*enumerator.PortDetails)
	if s.listPorts == nil {
		return details
	}

	ports, err := s.listPorts()
	if err != nil {
		s.logger.Warn("Failed to enumerate serial ports", zap.Error(err))
		return details
	}
	for _, p := range ports {
		details[filepath.Base(p.Name)] = p
	}
	return details
}

// usbDeviceDir walks up from the tty's sysfs device to the directory holding idVendor
func (s *Scanner) usbDeviceDir(name string) (string, bool) {
	resolved, err := filepath.EvalSymlinks(filepath.Join(s.sysfsTTY, name, "device"))
	if err != nil {
		return "", false
	}

	stop := filepath.Dir(s.sysfsTTY)
	for dir := resolved; dir != "/" && dir != "." && dir != stop; dir = filepath.Dir(dir) {
		if _, err := os.Stat(filepath.Join(dir, "idVendor")); err == nil {
			return dir, true
		}
	}
	return "", false
}

func readAttr(dir, name string) string {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func fill(dst *string, value string) {
	if *dst == "" {
		*dst = value
	}
}
