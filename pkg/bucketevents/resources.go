package bucketevents

import (
	"fmt"

	"github.com/illmade-knight/go-bucket-events/pkg/deferred"
	"github.com/illmade-knight/go-bucket-events/pkg/engine"
)

// Resource kinds declared or consumed by this package.
const (
	KindBucket             = "storage:Bucket"
	KindFunction           = "compute:Function"
	KindInvokePermission   = "iam:InvokePermission"
	KindBucketNotification = "storage:BucketNotification"
)

// EventSourcePrincipal identifies the storage service as the caller being
// authorised by an invoke permission.
const EventSourcePrincipal = "storage.googleapis.com"

// BucketResourceName formats a bucket id as a full storage resource name.
func BucketResourceName(bucketID string) string {
	return fmt.Sprintf("projects/_/buckets/%s", bucketID)
}

// Function is a deployed compute target that bucket events can invoke.
type Function interface {
	// Name is the function's service name.
	Name() string
	// Location is the region the function runs in.
	Location() string
	// Ref resolves to the invocation endpoint once the function is known.
	Ref() deferred.Output[string]
}

// AudienceFunction is a Function whose push deliveries must be authenticated
// for an audience other than its endpoint.
type AudienceFunction interface {
	Function
	Audience() deferred.Output[string]
}

type resourceFunction struct {
	resource *engine.Resource
	location string
}

func (f *resourceFunction) Name() string                 { return f.resource.Name() }
func (f *resourceFunction) Location() string             { return f.location }
func (f *resourceFunction) Ref() deferred.Output[string] { return f.resource.StringOutput("uri") }
func (f *resourceFunction) Audience() deferred.Output[string] {
	return f.resource.StringOutput("audience")
}

// FunctionFromResource adapts a declared function resource. Its "uri" output
// is used as the invocation target and its "audience" output as the token
// audience.
func FunctionFromResource(r *engine.Resource, location string) Function {
	return &resourceFunction{resource: r, location: location}
}

// DeclareBucket declares a storage bucket resource.
func DeclareBucket(d engine.Declarer, name string, props engine.Properties, opts ...engine.ResourceOption) (*engine.Resource, error) {
	return d.Declare(KindBucket, name, props, opts...)
}

// DeclareFunction declares a reference to a deployed function and adapts it.
func DeclareFunction(d engine.Declarer, name, location string, props engine.Properties, opts ...engine.ResourceOption) (Function, error) {
	if props == nil {
		props = engine.Properties{}
	}
	props["location"] = location
	r, err := d.Declare(KindFunction, name, props, opts...)
	if err != nil {
		return nil, err
	}
	return FunctionFromResource(r, location), nil
}
