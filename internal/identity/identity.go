package identity

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Ref is a reference to a user identity. Depending on which read path
// produced it, the same reference may arrive as a plain hex id string,
// a raw ObjectID, or a populated sub-document ({_id, username, ...}).
// Every membership or ownership comparison must go through Canonical so
// that all three shapes compare equal.
type Ref struct {
	id string
	// Display fields carried along when the reference was populated by
	// a $lookup. Empty for raw references.
	Username  string `bson:"username,omitempty" json:"username,omitempty"`
	AvatarURL string `bson:"avatar_url,omitempty" json:"avatar_url,omitempty"`
}

// NewRef builds a reference from a canonical id string.
func NewRef(id string) Ref {
	return Ref{id: Canonicalize(id)}
}

// Canonical returns the single normalized string form of the identity.
func (r Ref) Canonical() string {
	return r.id
}

// IsZero reports whether the reference carries no identity at all.
func (r Ref) IsZero() bool {
	return r.id == ""
}

// Equal compares two references by canonical id only.
func (r Ref) Equal(other Ref) bool {
	return r.id != "" && r.id == other.id
}

// Canonicalize normalizes a raw identity value to its canonical string
// form. It trims whitespace and surrounding quotes, which show up when
// ids round-trip through JSON templating on the client.
func Canonicalize(raw string) string {
	raw = strings.TrimSpace(raw)
	return strings.Trim(raw, "\"'")
}

func (r Ref) MarshalJSON() ([]byte, error) {
	if r.Username == "" && r.AvatarURL == "" {
		return json.Marshal(r.id)
	}
	return json.Marshal(struct {
		ID        string `json:"id"`
		Username  string `json:"username,omitempty"`
		AvatarURL string `json:"avatar_url,omitempty"`
	}{r.id, r.Username, r.AvatarURL})
}

func (r *Ref) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		r.id = Canonicalize(s)
		return nil
	}

	var doc struct {
		ID        string `json:"id"`
		MongoID   string `json:"_id"`
		Username  string `json:"username"`
		Name      string `json:"name"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("identity: cannot decode reference from %s", string(data))
	}
	id := doc.ID
	if id == "" {
		id = doc.MongoID
	}
	if id == "" {
		return fmt.Errorf("identity: populated reference is missing an id field")
	}
	r.id = Canonicalize(id)
	r.Username = doc.Username
	if r.Username == "" {
		r.Username = doc.Name
	}
	r.AvatarURL = doc.AvatarURL
	return nil
}

func (r Ref) MarshalBSONValue() (bsontype.Type, []byte, error) {
	// References are always persisted in raw string form; populated
	// shapes only ever come back out of aggregation reads.
	return bson.MarshalValue(r.id)
}

func (r *Ref) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	switch t {
	case bson.TypeString:
		var s string
		if err := bson.UnmarshalValue(t, data, &s); err != nil {
			return err
		}
		r.id = Canonicalize(s)
		return nil
	case bson.TypeObjectID:
		var oid primitive.ObjectID
		if err := bson.UnmarshalValue(t, data, &oid); err != nil {
			return err
		}
		r.id = oid.Hex()
		return nil
	case bson.TypeEmbeddedDocument:
		var doc struct {
			ID        interface{} `bson:"_id"`
			Username  string      `bson:"username"`
			Name      string      `bson:"name"`
			AvatarURL string      `bson:"avatar_url"`
		}
		if err := bson.UnmarshalValue(t, data, &doc); err != nil {
			return err
		}
		switch id := doc.ID.(type) {
		case primitive.ObjectID:
			r.id = id.Hex()
		case string:
			r.id = Canonicalize(id)
		default:
			return fmt.Errorf("identity: unsupported _id type %T in populated reference", doc.ID)
		}
		r.Username = doc.Username
		if r.Username == "" {
			r.Username = doc.Name
		}
		r.AvatarURL = doc.AvatarURL
		return nil
	default:
		return fmt.Errorf("identity: cannot decode reference from bson type %s", t)
	}
}

// Contains reports whether the canonical id appears in the set of
// references.
func Contains(refs []Ref, id string) bool {
	id = Canonicalize(id)
	if id == "" {
		return false
	}
	for _, r := range refs {
		if r.id == id {
			return true
		}
	}
	return false
}

// Canonicals flattens a reference set to its canonical string ids.
func Canonicals(refs []Ref) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.id)
	}
	return out
}
