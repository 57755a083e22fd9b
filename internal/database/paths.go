package database

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/victorivanov/rolesync/internal/docstore"
)

// Document layout:
//
//	servers/{serverId}
//	servers/{serverId}/roles/{roleId}
//	servers/{serverId}/members/{uid}
//	servers/{serverId}/channels/{channelId}
//	users/{uid}
const (
	ServersCollection = "servers"
	UsersCollection   = "users"
)

func ServerPath(serverID string) string { return docstore.Join(ServersCollection, serverID) }

func RolesPath(serverID string) string { return docstore.Join(ServersCollection, serverID, "roles") }

func RolePath(serverID, roleID string) string { return docstore.Join(RolesPath(serverID), roleID) }

func MembersPath(serverID string) string {
	return docstore.Join(ServersCollection, serverID, "members")
}

func MemberPath(serverID, uid string) string { return docstore.Join(MembersPath(serverID), uid) }

func ChannelsPath(serverID string) string {
	return docstore.Join(ServersCollection, serverID, "channels")
}

func ChannelPath(serverID, channelID string) string {
	return docstore.Join(ChannelsPath(serverID), channelID)
}

func ProfilePath(uid string) string { return docstore.Join(UsersCollection, uid) }

// ServerIDFromPath extracts the server id from any path under servers/.
func ServerIDFromPath(path string) (string, bool) {
	const prefix = ServersCollection + "/"
	if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
		return "", false
	}
	rest := path[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], true
		}
	}
	return rest, true
}

// toDocument encodes a model through its json tags, so every backend sees
// the same field names and value shapes as clients do.
func toDocument(v any) (docstore.Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encoding document")
	}
	doc := docstore.Document{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "encoding document")
	}
	return doc, nil
}

func bitsValue(bits int64) string { return strconv.FormatInt(bits, 10) }

func timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func boolMap(m map[string]bool) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// readModel loads the document at path into out. It reports false when the
// document does not exist.
func readModel(doc docstore.Document, err error, out any) (bool, error) {
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, docstore.Decode(doc, out)
}

// decodeAll decodes a listing, letting set fill in the id taken from each
// document's path.
func decodeAll[T any](snaps []docstore.Snapshot, set func(*T, string)) ([]T, error) {
	out := make([]T, 0, len(snaps))
	for _, snap := range snaps {
		var v T
		if err := docstore.Decode(snap.Data, &v); err != nil {
			return nil, errors.Wrapf(err, "decoding %s", snap.Path)
		}
		set(&v, snap.ID())
		out = append(out, v)
	}
	return out, nil
}
