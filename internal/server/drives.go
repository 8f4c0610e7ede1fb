package server

import (
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"cbmbridge/internal/cbmerr"
	"cbmbridge/internal/config"
	"cbmbridge/internal/nameinfo"
	"cbmbridge/internal/provider"
)

// driveTable binds drive numbers and provider names to specs and keeps
// the providers opened from them. Keys are "0".."9" for drives and upper
// case names for named providers.
type driveTable struct {
	opts  provider.Options
	specs map[string]string
	open  map[string]provider.Provider
	last  byte
}

func newDriveTable(cfg config.Config, opts provider.Options) *driveTable {
	dt := &driveTable{
		opts:  opts,
		specs: map[string]string{},
		open:  map[string]provider.Provider{},
	}
	for k, v := range cfg.Drives {
		dt.specs[k] = v
	}
	for k, v := range cfg.Providers {
		dt.specs[strings.ToUpper(k)] = v
	}
	if nums := cfg.DriveNumbers(); len(nums) > 0 {
		dt.last = byte(nums[0])
	}
	return dt
}

func driveKey(d byte) string {
	return strconv.Itoa(int(d))
}

// key returns the table key a file reference points at. An unused or
// empty drive means the drive used last.
func (dt *driveTable) key(d *nameinfo.DriveAndName) (string, bool) {
	switch {
	case d.Drive == nameinfo.DriveUndefined:
		return strings.ToUpper(string(d.DriveName)), true
	case d.Drive == nameinfo.DriveUnused, d.Drive == nameinfo.DriveLast:
		return driveKey(dt.last), false
	case d.Drive <= 9:
		return driveKey(d.Drive), false
	}
	return "", false
}

// get returns the provider for key, opening it on first use.
func (dt *driveTable) get(key string) (provider.Provider, error) {
	if p, ok := dt.open[key]; ok {
		return p, nil
	}
	spec, ok := dt.specs[key]
	if !ok {
		return nil, cbmerr.Errorf(cbmerr.DriveNotReady, "drive %s is not assigned", key)
	}
	p, err := provider.New(spec, dt.opts)
	if err != nil {
		log.WithFields(log.Fields{"drive": key, "spec": spec}).WithError(err).Warn("cannot open provider")
		if c := cbmerr.CodeOf(err); c != cbmerr.Fault {
			return nil, err
		}
		return nil, cbmerr.Wrap(cbmerr.DriveNotReady, err)
	}
	log.WithFields(log.Fields{"drive": key, "spec": spec}).Debug("provider opened")
	dt.open[key] = p
	return p, nil
}

// resolve returns the provider a file reference points at and whether it
// is a named provider. Numeric drives become the last used drive.
func (dt *driveTable) resolve(d *nameinfo.DriveAndName) (provider.Provider, bool, error) {
	key, named := dt.key(d)
	if key == "" {
		return nil, false, cbmerr.Errorf(cbmerr.DriveNotReady, "invalid drive 0x%02x", d.Drive)
	}
	p, err := dt.get(key)
	if err != nil {
		return nil, named, err
	}
	if !named {
		n, _ := strconv.Atoi(key)
		dt.last = byte(n)
	}
	return p, named, nil
}

// assign binds key to spec, or removes the binding for an empty spec. The
// new provider is opened right away so a bad spec is reported to the
// device.
func (dt *driveTable) assign(key, spec string) error {
	var p provider.Provider
	if spec != "" {
		var err error
		if p, err = provider.New(spec, dt.opts); err != nil {
			if cbmerr.CodeOf(err) == cbmerr.Fault {
				return cbmerr.Wrap(cbmerr.DriveNotReady, err)
			}
			return err
		}
	}
	old := dt.open[key]
	delete(dt.open, key)
	delete(dt.specs, key)
	if p != nil {
		dt.specs[key] = spec
		dt.open[key] = p
	}
	dt.release(old)
	log.WithFields(log.Fields{"drive": key, "spec": spec}).Info("assigned")
	return nil
}

// alias makes key share the provider of other.
func (dt *driveTable) alias(key, other string) error {
	p, err := dt.get(other)
	if err != nil {
		return err
	}
	old := dt.open[key]
	dt.specs[key] = dt.specs[other]
	dt.open[key] = p
	dt.release(old)
	log.WithFields(log.Fields{"drive": key, "alias": other}).Info("assigned")
	return nil
}

// release closes p unless another key still uses it.
func (dt *driveTable) release(p provider.Provider) {
	if p == nil {
		return
	}
	for _, q := range dt.open {
		if q == p {
			return
		}
	}
	if err := p.Close(); err != nil {
		log.WithError(err).Warn("closing provider")
	}
}

func (dt *driveTable) closeAll() error {
	var first error
	seen := map[provider.Provider]bool{}
	for k, p := range dt.open {
		delete(dt.open, k)
		if seen[p] {
			continue
		}
		seen[p] = true
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// keys returns the bound keys, drives first.
func (dt *driveTable) keys() []string {
	out := make([]string, 0, len(dt.specs))
	for k := range dt.specs {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		_, ei := strconv.Atoi(out[i])
		_, ej := strconv.Atoi(out[j])
		if (ei == nil) != (ej == nil) {
			return ei == nil
		}
		return out[i] < out[j]
	})
	return out
}

// Drives returns the current bindings, e.g. "0" -> "fs:./cbm-data".
func (s *Server) Drives() map[string]string {
	out := map[string]string{}
	for _, k := range s.drives.keys() {
		out[k] = s.drives.specs[k]
	}
	return out
}

// cmdAssign binds the target drive or name to the provider the source
// describes:
//
//	A0:=fs:/srv/c64     drive 0 is a host directory
//	A GAMES:=d64:g.d64  named provider GAMES is an image
//	A1:=0:              drive 1 shares drive 0's provider
//	A1:                 drive 1 is unassigned
func (s *Server) cmdAssign(ni *nameinfo.NameInfo) error {
	key, _ := s.drives.key(&ni.Target)
	if key == "" || len(ni.Target.Name) > 0 {
		return cbmerr.Errorf(cbmerr.SyntaxInval, "ASSIGN needs a drive or provider name")
	}
	if s.opts.ReadOnly {
		return cbmerr.New(cbmerr.WriteProtect)
	}
	if ni.NumSources == 0 {
		return s.drives.assign(key, "")
	}

	src := &ni.Sources[0]
	switch {
	case src.Drive == nameinfo.DriveUndefined:
		scheme := strings.ToLower(string(src.DriveName))
		if isScheme(scheme) {
			return s.drives.assign(key, scheme+":"+string(src.Name))
		}
		if len(src.Name) == 0 {
			return s.drives.alias(key, strings.ToUpper(scheme))
		}
		return cbmerr.Errorf(cbmerr.SyntaxInval, "unknown provider kind %q", scheme)
	case len(src.Name) == 0:
		other, _ := s.drives.key(src)
		if other == key {
			return nil
		}
		return s.drives.alias(key, other)
	}
	return s.drives.assign(key, string(src.Name))
}

func isScheme(s string) bool {
	for _, k := range provider.Schemes() {
		if k == s {
			return true
		}
	}
	return false
}
