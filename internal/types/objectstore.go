package types

// ObjectStoreCredential is a connection descriptor for the object-store
// admin SDK, treated as a black box per spec §1 — this module only ever
// passes these values through to the ObjectStoreAdmin interface.
type ObjectStoreCredential struct {
	URL       string `json:"url"`
	AccessKey string `json:"accessKey"`
	SecretKey string `json:"secretKey"`
	Secure    bool   `json:"secure"`
}

// KubernetesServiceAccount identifies a ServiceAccount by namespace+name,
// the unit object-store access bindings and secret-manager k8s-auth roles
// are scoped to (spec §4.10).
type KubernetesServiceAccount struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// Key returns the "namespace:name" identity used as a map/set key for
// deduplication and stale-user diffing.
func (sa KubernetesServiceAccount) Key() string {
	return sa.Namespace + ":" + sa.Name
}

// BucketPermission is the access level an object-store policy grants on a
// single bucket.
type BucketPermission string

const (
	BucketPermissionNone      BucketPermission = "none"
	BucketPermissionRead      BucketPermission = "read"
	BucketPermissionWrite     BucketPermission = "write"
	BucketPermissionReadWrite BucketPermission = "readwrite"
)

// BucketAccess pairs a bucket name with the permission level granted on it.
type BucketAccess struct {
	Bucket     string           `json:"bucket"`
	Permission BucketPermission `json:"permission"`
}

// ServiceAccountAccess declares the bucket access a single Kubernetes
// ServiceAccount should receive from an object-store deployment.
type ServiceAccountAccess struct {
	ServiceAccount KubernetesServiceAccount `json:"serviceAccount"`
	BucketAccess   []BucketAccess           `json:"bucketAccess"`
}

// ObjectStoreDeployment is the declarative, idempotent description of an
// object-store deployment: the root bucket plus every ServiceAccount's
// intended bucket access (spec §4.10, grounded on MinioDeployment).
type ObjectStoreDeployment struct {
	RootBucket      string                 `json:"rootBucket"`
	ServiceAccounts []ServiceAccountAccess `json:"serviceAccounts"`
}
