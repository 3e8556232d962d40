package servicemanager

import (
	"errors"
	"fmt"
	"regexp"
)

// This file defines the Go structs that map directly to the structure of the
// events.yaml file. The `yaml:"..."` tags tell the parser which key maps to
// which field.

// Environment holds configuration specific to a single environment (e.g., test, production).
type Environment struct {
	Name      string            `yaml:"name"`
	ProjectID string            `yaml:"project_id"`
	Labels    map[string]string `yaml:"labels,omitempty"`
	Location  string            `yaml:"location,omitempty"`
	Region    string            `yaml:"region,omitempty"`
	// InvokerServiceAccount is the identity push deliveries authenticate as.
	InvokerServiceAccount string `yaml:"invoker_service_account,omitempty"`
}

// EventsArchitecture is the root of the configuration structure.
type EventsArchitecture struct {
	Environment   `yaml:",inline"`
	Buckets       []BucketSpec       `yaml:"buckets"`
	Functions     []FunctionSpec     `yaml:"functions"`
	Subscriptions []SubscriptionSpec `yaml:"subscriptions"`
}

// BucketSpec defines the configuration for a storage bucket.
type BucketSpec struct {
	Name              string            `yaml:"name"`
	Location          string            `yaml:"location,omitempty"`
	StorageClass      string            `yaml:"storage_class,omitempty"`
	VersioningEnabled bool              `yaml:"versioning_enabled,omitempty"`
	Labels            map[string]string `yaml:"labels,omitempty"`
	LifecycleRules    []LifecycleRule   `yaml:"lifecycle_rules,omitempty"`
}

// FunctionSpec references an already-deployed function. When URI is set the
// function is not looked up.
type FunctionSpec struct {
	Name     string `yaml:"name"`
	Region   string `yaml:"region,omitempty"`
	URI      string `yaml:"uri,omitempty"`
	Audience string `yaml:"audience,omitempty"`
}

// SubscriptionHelper names a convenience helper used instead of raw events.
type SubscriptionHelper string

const (
	HelperOnPut           SubscriptionHelper = "on_put"
	HelperOnDelete        SubscriptionHelper = "on_delete"
	HelperOnObjectCreated SubscriptionHelper = "on_object_created"
	HelperOnObjectRemoved SubscriptionHelper = "on_object_removed"
)

// SubscriptionSpec wires bucket events to a function. Exactly one of Events
// or Helper must be set; Qualifier only applies to Helper.
type SubscriptionSpec struct {
	Name         string             `yaml:"name"`
	Bucket       string             `yaml:"bucket"`
	Function     string             `yaml:"function"`
	Events       []string           `yaml:"events,omitempty"`
	Helper       SubscriptionHelper `yaml:"helper,omitempty"`
	Qualifier    *string            `yaml:"qualifier,omitempty"`
	FilterPrefix string             `yaml:"filter_prefix,omitempty"`
	FilterSuffix string             `yaml:"filter_suffix,omitempty"`
}

// LifecycleAction represents an action in a lifecycle rule.
type LifecycleAction struct {
	Type string `yaml:"type"` // e.g., "Delete"
}

// LifecycleCondition represents the conditions for a lifecycle rule.
type LifecycleCondition struct {
	AgeInDays int `yaml:"age_in_days"`
}

// LifecycleRule combines an action and a condition.
type LifecycleRule struct {
	Action    LifecycleAction    `yaml:"action"`
	Condition LifecycleCondition `yaml:"condition"`
}

var serviceAccountIDRegex = regexp.MustCompile(`^[a-z]([-a-z0-9]{4,28}[a-z0-9])$`)

// InvokerEmail returns the email of the invoker service account.
func (e Environment) InvokerEmail() string {
	return fmt.Sprintf("%s@%s.iam.gserviceaccount.com", e.InvokerServiceAccount, e.ProjectID)
}

// Validate checks cross-references and names. It collects every problem
// rather than stopping at the first.
func (a *EventsArchitecture) Validate() error {
	var errs []error
	if a.ProjectID == "" {
		errs = append(errs, errors.New("project_id is required"))
	}
	if a.InvokerServiceAccount != "" && !serviceAccountIDRegex.MatchString(a.InvokerServiceAccount) {
		errs = append(errs, fmt.Errorf("invoker_service_account '%s' is not a valid service account id", a.InvokerServiceAccount))
	}

	buckets := make(map[string]bool)
	for _, b := range a.Buckets {
		if !IsValidBucketName(b.Name) {
			errs = append(errs, fmt.Errorf("bucket name '%s' is invalid", b.Name))
		}
		if buckets[b.Name] {
			errs = append(errs, fmt.Errorf("bucket '%s' is defined more than once", b.Name))
		}
		buckets[b.Name] = true
	}

	functions := make(map[string]bool)
	for _, f := range a.Functions {
		if f.Name == "" {
			errs = append(errs, errors.New("function with empty name"))
		}
		if functions[f.Name] {
			errs = append(errs, fmt.Errorf("function '%s' is defined more than once", f.Name))
		}
		functions[f.Name] = true
	}

	subs := make(map[string]bool)
	for _, s := range a.Subscriptions {
		if s.Name == "" {
			errs = append(errs, errors.New("subscription with empty name"))
		}
		if subs[s.Name] {
			errs = append(errs, fmt.Errorf("subscription '%s' is defined more than once", s.Name))
		}
		subs[s.Name] = true
		if !buckets[s.Bucket] {
			errs = append(errs, fmt.Errorf("subscription '%s' references unknown bucket '%s'", s.Name, s.Bucket))
		}
		if !functions[s.Function] {
			errs = append(errs, fmt.Errorf("subscription '%s' references unknown function '%s'", s.Name, s.Function))
		}
		switch {
		case len(s.Events) > 0 && s.Helper != "":
			errs = append(errs, fmt.Errorf("subscription '%s' sets both events and helper", s.Name))
		case s.Helper != "":
			switch s.Helper {
			case HelperOnPut, HelperOnDelete, HelperOnObjectCreated, HelperOnObjectRemoved:
			default:
				errs = append(errs, fmt.Errorf("subscription '%s' has unknown helper '%s'", s.Name, s.Helper))
			}
		}
	}

	return errors.Join(errs...)
}
