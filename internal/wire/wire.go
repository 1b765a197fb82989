// Package wire holds the JSON shapes exchanged between the note client and the
// sync server. Every encrypted field is opaque to the server.
package wire

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"time"

	"secure-notes/internal/crypto"
)

// Endpoint paths.
const (
	PathPreLogin    = "/user/pre-login/"
	PathLogin       = "/user/login"
	PathUserCreate  = "/user/create"
	PathUserUpdate  = "/user/update"
	PathUserData    = "/user/update-data"
	PathUserCheck   = "/user/check"
	PathPublicKey   = "/user/public-key"
	PathServerKey   = "/server/key"
	PathKeyCreate   = "/key/create"
	PathKeyRead     = "/key/read"
	PathKeyReadAll  = "/key/read-all"
	PathKeyDelete   = "/key/delete"
	PathNoteCreate  = "/note/create"
	PathNoteRead    = "/note/read"
	PathNoteUpdate  = "/note/update"
	PathNoteDelete  = "/note/delete"
	PathNoteMulti   = "/note/multi"
	PathShare       = "/note/share"
	PathShareOffers = "/note/share-offers"
	PathShareDelete = "/note/share/delete"
)

// SealedBodyHeader marks a request body sealed to the server box key.
const SealedBodyHeader = "X-Sealed-Body"

// Error codes carried in ErrorResponse.Error.
const (
	ErrCodeConflict           = "conflict"
	ErrCodePossibleConversion = "possible-conversion"
	ErrCodePoWRequired        = "pow-required"
	ErrCodeBadCredentials     = "bad-credentials"
	ErrCodeExists             = "exists"
)

// MaxClockSkew bounds how far a signed request timestamp may drift.
const MaxClockSkew = 5 * time.Minute

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type Usage struct {
	Bytes int64 `json:"bytes"`
	Notes int64 `json:"notes"`
}

func (u Usage) Add(d Usage) Usage {
	return Usage{Bytes: u.Bytes + d.Bytes, Notes: u.Notes + d.Notes}
}

func (u Usage) Sub(d Usage) Usage {
	return Usage{Bytes: u.Bytes - d.Bytes, Notes: u.Notes - d.Notes}
}

type PreLogin struct {
	Username    string                `json:"username"`
	Params      crypto.PasswordParams `json:"params"`
	ChallengeID string                `json:"challengeId,omitempty"`
	Challenge   []byte                `json:"challenge,omitempty"`
}

type LoginRequest struct {
	Username    string `json:"username"`
	ChallengeID string `json:"challengeId"`
	Response    []byte `json:"response"`
}

type LoginResponse struct {
	User      UserRecord `json:"user"`
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// UserRecord is the server's view of an account. RootKeyWrap and SignWrap are
// sealed under the password-derived user key; Payload under the root key.
type UserRecord struct {
	Username    string                `json:"username"`
	Params      crypto.PasswordParams `json:"params"`
	RootKeyWrap []byte                `json:"rootKeyWrap"`
	SignWrap    []byte                `json:"signWrap"`
	SignPub     []byte                `json:"signPub"`
	BoxPub      []byte                `json:"boxPub"`
	Payload     []byte                `json:"payload,omitempty"`
	Usage       Usage                 `json:"usage"`
}

type CreateUserRequest struct {
	User    UserRecord `json:"user"`
	AuthKey []byte     `json:"authKey"`
}

// UpdateUserRequest rewraps the root keys after a password change.
type UpdateUserRequest struct {
	Params      crypto.PasswordParams `json:"params"`
	AuthKey     []byte                `json:"authKey"`
	RootKeyWrap []byte                `json:"rootKeyWrap"`
	SignWrap    []byte                `json:"signWrap"`
}

type UpdateUserDataRequest struct {
	Payload []byte `json:"payload"`
}

type PoWSolution struct {
	Challenge []byte `json:"challenge"`
	Nonce     uint64 `json:"nonce"`
}

type PoWRequired struct {
	Error      string `json:"error"`
	Challenge  []byte `json:"challenge"`
	Difficulty int    `json:"difficulty"`
}

type CheckUsernameRequest struct {
	Username string       `json:"username"`
	PoW      *PoWSolution `json:"pow,omitempty"`
}

type CheckUsernameResponse struct {
	Available bool `json:"available"`
}

type PublicKeyRequest struct {
	Username string       `json:"username"`
	PoW      *PoWSolution `json:"pow,omitempty"`
}

type PublicKeyResponse struct {
	Username string `json:"username"`
	SignPub  []byte `json:"signPub"`
	BoxPub   []byte `json:"boxPub"`
}

type ServerKeyResponse struct {
	BoxPub []byte `json:"boxPub"`
}

type KeyMeta struct {
	Shared bool `json:"shared"`
	Root   bool `json:"root"`
}

// KeyRecord is a Key Set as stored server side: Wrapped is the exported key
// material sealed under the owner's root key.
type KeyRecord struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Wrapped []byte  `json:"wrapped"`
	SignPub []byte  `json:"signPub"`
	Meta    KeyMeta `json:"meta"`
}

type KeyIDRequest struct {
	ID string `json:"id"`
}

type ItemRecord struct {
	Type    string `json:"type"`
	Version int64  `json:"version"`
	Data    []byte `json:"data,omitempty"`
	Updated bool   `json:"updated,omitempty"`
	Size    int64  `json:"size"`
}

type NoteRecord struct {
	ID      string       `json:"id"`
	KeyName string       `json:"keyName"`
	Items   []ItemRecord `json:"items"`
}

func (n *NoteRecord) Item(typ string) *ItemRecord {
	for i := range n.Items {
		if n.Items[i].Type == typ {
			return &n.Items[i]
		}
	}
	return nil
}

func (n *NoteRecord) Size() int64 {
	var total int64
	for _, it := range n.Items {
		total += it.Size
	}
	return total
}

type ReadNoteRequest struct {
	ID       string           `json:"id"`
	Versions map[string]int64 `json:"versions,omitempty"`
}

type ActionKind string

const (
	ActionCreate    ActionKind = "create"
	ActionUpdate    ActionKind = "update"
	ActionDelete    ActionKind = "delete"
	ActionChangeKey ActionKind = "change-key"
)

// Action is one signed note mutation. Signatures cover Digest(requestID).
// SignPub is the note key's public signing key; required on create and
// change-key so the server can verify later mutations.
type Action struct {
	Kind       ActionKind  `json:"kind"`
	Note       NoteRecord  `json:"note"`
	OldKeyName string      `json:"oldKeyName,omitempty"`
	SignPub    []byte      `json:"signPub,omitempty"`
	Signatures []Signature `json:"signatures,omitempty"`
}

// Digest binds the action content to one request id.
func (a Action) Digest(requestID string) []byte {
	a.Signatures = nil
	b, _ := json.Marshal(a)
	h := sha256.New()
	h.Write([]byte(requestID))
	h.Write(b)
	return h.Sum(nil)
}

type MultiRequest struct {
	Actions []Action `json:"actions"`
}

type Conflict struct {
	NoteID  string `json:"noteId"`
	Type    string `json:"type"`
	Version int64  `json:"version"`
}

type ConflictResponse struct {
	Error     string     `json:"error"`
	Conflicts []Conflict `json:"conflicts"`
}

type MultiResponse struct {
	Usage    Usage                       `json:"usage"`
	Versions map[string]map[string]int64 `json:"versions"`
}

type ShareRequest struct {
	Recipient string `json:"recipient"`
	Data      []byte `json:"data"`
}

type ShareOffer struct {
	ID      string    `json:"id"`
	Sender  string    `json:"sender"`
	Data    []byte    `json:"data"`
	Created time.Time `json:"created"`
}

type ShareDeleteRequest struct {
	ID string `json:"id"`
}

// NoteShareInfo is the plaintext of a share offer, sealed to the recipient.
type NoteShareInfo struct {
	Sender    string  `json:"sender"`
	NoteID    string  `json:"noteId"`
	KeyID     string  `json:"keyId"`
	KeyName   string  `json:"keyName"`
	KeyMeta   KeyMeta `json:"keyMeta"`
	Material  []byte  `json:"material"`
	Signature []byte  `json:"signature"`
}

// Digest is what the sender's account signature over a share covers.
func (s NoteShareInfo) Digest() []byte {
	s.Signature = nil
	b, _ := json.Marshal(s)
	sum := sha256.Sum256(b)
	return sum[:]
}

// Signature is produced by one logical actor: "user" for the account root key,
// "key:<name>" for a Key Set.
type Signature struct {
	Signer string `json:"signer"`
	Sig    []byte `json:"sig"`
}

const SignerUser = "user"

func KeySigner(name string) string { return "key:" + name }

// Envelope wraps every authenticated request body.
type Envelope struct {
	Username   string          `json:"username"`
	Timestamp  int64           `json:"timestamp"`
	RequestID  string          `json:"requestId"`
	Signatures []Signature     `json:"signatures"`
	Body       json.RawMessage `json:"body"`
}

// Digest is what the "user" signature of an envelope covers.
func (e *Envelope) Digest(path string) []byte {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(e.Username))
	h.Write([]byte{0})
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(e.Timestamp))
	h.Write(ts[:])
	h.Write([]byte(e.RequestID))
	h.Write([]byte{0})
	h.Write(e.Body)
	return h.Sum(nil)
}

func (e *Envelope) Signature(signer string) []byte { return FindSignature(e.Signatures, signer) }

func FindSignature(sigs []Signature, signer string) []byte {
	for _, s := range sigs {
		if s.Signer == signer {
			return s.Sig
		}
	}
	return nil
}
