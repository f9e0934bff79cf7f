package sros

import "github.com/beevik/etree"

// TargetKind names the kind of one side of a compare.
type TargetKind string

const (
	// KindConfigurationRegion selects a ConfigurationRegion target.
	KindConfigurationRegion TargetKind = "configuration_region"
	// KindURL selects a URL target.
	KindURL TargetKind = "url"
	// KindRollback selects a Rollback target.
	KindRollback TargetKind = "rollback"
)

var targetKinds = []string{
	string(KindConfigurationRegion),
	string(KindURL),
	string(KindRollback),
}

// Target is the source or destination of a compare. The set of
// implementations is closed: ConfigurationRegion, URL and Rollback.
type Target interface {
	Kind() TargetKind
	Value() string
	encode(parent *etree.Element)
}

// ConfigurationRegion names a datastore region such as "baseline",
// "candidate" or "running". The name becomes an element tag.
type ConfigurationRegion string

// URL is a configuration file location, e.g. "cf3:/config.cfg".
type URL string

// Rollback is a rollback checkpoint id.
type Rollback string

func (r ConfigurationRegion) Kind() TargetKind { return KindConfigurationRegion }
func (r ConfigurationRegion) Value() string    { return string(r) }

// <source><baseline/></source>
func (r ConfigurationRegion) encode(parent *etree.Element) {
	parent.CreateElement(string(r))
}

func (u URL) Kind() TargetKind { return KindURL }
func (u URL) Value() string    { return string(u) }

// <source><url>cf3:/config.cfg</url></source>
func (u URL) encode(parent *etree.Element) {
	parent.CreateElement("url").SetText(string(u))
}

func (r Rollback) Kind() TargetKind { return KindRollback }
func (r Rollback) Value() string    { return string(r) }

// <source><rollback><checkpoint-id>3</checkpoint-id></rollback></source>
func (r Rollback) encode(parent *etree.Element) {
	parent.CreateElement("rollback").CreateElement("checkpoint-id").SetText(string(r))
}

// NewTarget maps a kind name and value to a Target. field names the
// parameter in the error returned for an unknown kind.
func NewTarget(field string, kind TargetKind, value string) (Target, error) {
	switch kind {
	case KindConfigurationRegion:
		return ConfigurationRegion(value), nil
	case KindURL:
		return URL(value), nil
	case KindRollback:
		return Rollback(value), nil
	default:
		return nil, invalid(field, string(kind), targetKinds...)
	}
}
