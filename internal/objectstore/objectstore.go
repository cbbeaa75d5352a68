// Package objectstore defines the black-box object-store admin surface
// this module consumes (spec §1: "a third-party object-store admin SDK
// ... treated as a black-box ObjectStoreAdmin"). No concrete client is
// implemented here — callers wire in whatever SDK their deployment uses.
package objectstore

import "context"

// Permission is one access grant on a bucket, e.g. "readonly" or
// "readwrite". The exact vocabulary is owned by the underlying SDK; this
// package only threads it through.
type Permission struct {
	Bucket string
	Access string
}

// Admin is the black-box surface secretservices.objectStoreDeploy drives:
// bucket creation, user provisioning, and policy attachment against
// whatever object-store product a deployment targets.
type Admin interface {
	// EnsureBucket creates name if it does not already exist.
	EnsureBucket(ctx context.Context, name string) error

	// EnsureUser creates accessKey with secretKey if it does not already
	// exist. Existing users are left untouched.
	EnsureUser(ctx context.Context, accessKey, secretKey string) error

	// WritePolicy creates or replaces a named policy granting exactly the
	// listed permissions.
	WritePolicy(ctx context.Context, policyName string, permissions []Permission) error

	// AttachPolicy binds policyName to accessKey.
	AttachPolicy(ctx context.Context, accessKey, policyName string) error

	// ListUsers enumerates every access key currently provisioned, for
	// stale-user reaping.
	ListUsers(ctx context.Context) ([]string, error)

	// RemoveUser deletes accessKey and any policies attached only to it.
	RemoveUser(ctx context.Context, accessKey string) error
}

// ObjectIO is the narrow black-box surface statestore's object-store
// backend needs: raw get/put of a single object, independent of the
// bucket/user/policy lifecycle Admin covers.
type ObjectIO interface {
	// GetObject returns an object's bytes and found=true, or found=false
	// if it does not exist.
	GetObject(ctx context.Context, bucket, key string) (data []byte, found bool, err error)

	// PutObject creates or overwrites an object.
	PutObject(ctx context.Context, bucket, key string, data []byte) error

	// ListObjects enumerates object keys under prefix.
	ListObjects(ctx context.Context, bucket, prefix string) ([]string, error)

	// DeleteObject removes an object. Deleting a missing object is not an
	// error.
	DeleteObject(ctx context.Context, bucket, key string) error
}
