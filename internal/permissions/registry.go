package permissions

import (
	"fmt"
	"strings"
)

// Key is a canonical permission name. Its ordinal in the registry is its bit
// position in a Set, so keys may only ever be appended.
type Key string

const (
	ViewChannel           Key = "view_channel"
	SendMessages          Key = "send_messages"
	ReadMessageHistory    Key = "read_message_history"
	ManageMessages        Key = "manage_messages"
	ManageChannels        Key = "manage_channels"
	ManageRoles           Key = "manage_roles"
	ManageServer          Key = "manage_server"
	KickMembers           Key = "kick_members"
	BanMembers            Key = "ban_members"
	ModerateMembers       Key = "moderate_members"
	CreateInvite          Key = "create_invite"
	ChangeNickname        Key = "change_nickname"
	ManageNicknames       Key = "manage_nicknames"
	MentionEveryone       Key = "mention_everyone"
	AttachFiles           Key = "attach_files"
	EmbedLinks            Key = "embed_links"
	AddReactions          Key = "add_reactions"
	UseExternalEmojis     Key = "use_external_emojis"
	ManageEmojis          Key = "manage_emojis"
	ManageWebhooks        Key = "manage_webhooks"
	ViewAuditLog          Key = "view_audit_log"
	PinMessages           Key = "pin_messages"
	CreateThreads         Key = "create_threads"
	SendMessagesInThreads Key = "send_messages_in_threads"
	ManageThreads         Key = "manage_threads"
	ManageEvents          Key = "manage_events"
	Connect               Key = "connect"            // voice
	Speak                 Key = "speak"              // voice
	Stream                Key = "stream"             // voice
	UseVoiceActivity      Key = "use_voice_activity" // voice
	PrioritySpeaker       Key = "priority_speaker"   // voice
	MuteMembers           Key = "mute_members"       // voice
	DeafenMembers         Key = "deafen_members"     // voice
	MoveMembers           Key = "move_members"       // voice
)

// AdminOverride is granted to every member whose base role is admin, whatever
// their roles say.
const AdminOverride = ManageServer

// maxKeys keeps every Set representable as a non-negative int64.
const maxKeys = 63

// registry is append-only. Reordering it changes the meaning of every
// persisted permissionBits value.
var registry = []Key{
	ViewChannel,
	SendMessages,
	ReadMessageHistory,
	ManageMessages,
	ManageChannels,
	ManageRoles,
	ManageServer,
	KickMembers,
	BanMembers,
	ModerateMembers,
	CreateInvite,
	ChangeNickname,
	ManageNicknames,
	MentionEveryone,
	AttachFiles,
	EmbedLinks,
	AddReactions,
	UseExternalEmojis,
	ManageEmojis,
	ManageWebhooks,
	ViewAuditLog,
	PinMessages,
	CreateThreads,
	SendMessagesInThreads,
	ManageThreads,
	ManageEvents,
	Connect,
	Speak,
	Stream,
	UseVoiceActivity,
	PrioritySpeaker,
	MuteMembers,
	DeafenMembers,
	MoveMembers,
}

// spelling holds the accepted spellings of one key, in lookup order.
type spelling struct {
	canonical string
	camel     string
	plural    string
}

var (
	spellings []spelling
	ordinals  map[Key]int
)

func init() {
	if len(registry) > maxKeys {
		panic(fmt.Sprintf("permissions: registry has %d keys, at most %d fit in a bitmask", len(registry), maxKeys))
	}

	spellings = make([]spelling, len(registry))
	ordinals = make(map[Key]int, len(registry))
	for i, k := range registry {
		if _, dup := ordinals[k]; dup {
			panic(fmt.Sprintf("permissions: duplicate key %q", k))
		}
		ordinals[k] = i
		camel := camelCase(string(k))
		spellings[i] = spelling{canonical: string(k), camel: camel, plural: pluralize(camel)}
	}
}

// Keys returns the registry in ordinal order.
func Keys() []Key {
	out := make([]Key, len(registry))
	copy(out, registry)
	return out
}

// Len is the number of registered keys.
func Len() int { return len(registry) }

// Ordinal returns the bit position of k.
func Ordinal(k Key) (int, bool) {
	i, ok := ordinals[k]
	return i, ok
}

// Camel returns the camelCase spelling of k.
func (k Key) Camel() string { return camelCase(string(k)) }

func (k Key) String() string { return string(k) }

// camelCase turns "send_messages" into "sendMessages".
func camelCase(s string) string {
	parts := strings.Split(s, "_")
	var b strings.Builder
	b.Grow(len(s))
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			b.WriteString(p)
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

func pluralize(s string) string {
	if strings.HasSuffix(s, "s") {
		return s
	}
	return s + "s"
}
