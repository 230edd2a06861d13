package redis

const (
	// KeyPrefix namespaces every key written by the process.
	KeyPrefix = "exposure:"
	// KeyImageUpdates holds the last image update snapshot as JSON.
	KeyImageUpdates = KeyPrefix + "image-updates:snapshot"
)

// SnapshotKey returns the Redis key of the image update snapshot.
func SnapshotKey() string {
	return KeyImageUpdates
}
