// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verification

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"slices"
	"strings"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// EmojiCount is the length of the emoji SAS.
const EmojiCount = 7

// Emoji is one symbol of the short authentication string.
type Emoji struct {
	Index       int
	Symbol      string
	Description string
}

// emojiTable is the m.sas.v1 emoji list, indexed by 6-bit value.
var emojiTable = [64]struct{ symbol, description string }{
	{"🐶", "Dog"}, {"🐱", "Cat"}, {"🦁", "Lion"}, {"🐎", "Horse"},
	{"🦄", "Unicorn"}, {"🐷", "Pig"}, {"🐘", "Elephant"}, {"🐰", "Rabbit"},
	{"🐼", "Panda"}, {"🐓", "Rooster"}, {"🐧", "Penguin"}, {"🐢", "Turtle"},
	{"🐟", "Fish"}, {"🐙", "Octopus"}, {"🦋", "Butterfly"}, {"🌷", "Flower"},
	{"🌳", "Tree"}, {"🌵", "Cactus"}, {"🍄", "Mushroom"}, {"🌏", "Globe"},
	{"🌙", "Moon"}, {"☁️", "Cloud"}, {"🔥", "Fire"}, {"🍌", "Banana"},
	{"🍎", "Apple"}, {"🍓", "Strawberry"}, {"🌽", "Corn"}, {"🍕", "Pizza"},
	{"🎂", "Cake"}, {"❤️", "Heart"}, {"😀", "Smiley"}, {"🤖", "Robot"},
	{"🎩", "Hat"}, {"👓", "Glasses"}, {"🔧", "Spanner"}, {"🎅", "Santa"},
	{"👍", "Thumbs Up"}, {"☂️", "Umbrella"}, {"⌛", "Hourglass"}, {"⏰", "Clock"},
	{"🎁", "Gift"}, {"💡", "Light Bulb"}, {"📕", "Book"}, {"✏️", "Pencil"},
	{"📎", "Paperclip"}, {"✂️", "Scissors"}, {"🔒", "Lock"}, {"🔑", "Key"},
	{"🔨", "Hammer"}, {"☎️", "Telephone"}, {"🏁", "Flag"}, {"🚂", "Train"},
	{"🚲", "Bicycle"}, {"✈️", "Aeroplane"}, {"🚀", "Rocket"}, {"🏆", "Trophy"},
	{"⚽", "Ball"}, {"🎸", "Guitar"}, {"🎺", "Trumpet"}, {"🔔", "Bell"},
	{"⚓", "Anchor"}, {"🎧", "Headphones"}, {"📁", "Folder"}, {"📌", "Pin"},
}

// encodeKey is unpadded standard base64, the Matrix key encoding.
func encodeKey(data []byte) string {
	return base64.RawStdEncoding.EncodeToString(data)
}

// decodeKey accepts unpadded and padded base64.
func decodeKey(value string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(value, "="))
}

// curveKey is a Curve25519 key pair: the ephemeral key of one
// handshake, or the device identity key.
type curveKey struct {
	private [32]byte
	public  string
}

func newCurveKey(random io.Reader) (curveKey, error) {
	var key curveKey
	if _, err := io.ReadFull(random, key.private[:]); err != nil {
		return curveKey{}, fmt.Errorf("generating curve25519 key: %w", err)
	}
	public, err := key.publicKey()
	if err != nil {
		return curveKey{}, err
	}
	key.public = public
	return key, nil
}

// publicKey derives the encoded public key from the private key.
func (k curveKey) publicKey() (string, error) {
	public, err := curve25519.X25519(k.private[:], curve25519.Basepoint)
	if err != nil {
		return "", fmt.Errorf("deriving public key: %w", err)
	}
	return encodeKey(public), nil
}

// sharedSecret performs the X25519 agreement with the other side's
// encoded public key.
func (k curveKey) sharedSecret(theirPublic string) ([]byte, error) {
	public, err := decodeKey(theirPublic)
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %w", err)
	}
	if len(public) != curve25519.PointSize {
		return nil, fmt.Errorf("public key is %d bytes, want %d", len(public), curve25519.PointSize)
	}
	return curve25519.X25519(k.private[:], public)
}

// commitment is the accepting side's hash of the start message.
func commitment(publicKey string, canonicalStart []byte) string {
	hash := sha256.New()
	hash.Write([]byte(publicKey))
	hash.Write(canonicalStart)
	return encodeKey(hash.Sum(nil))
}

// sasParty identifies one side of the handshake in derivation info.
type sasParty struct {
	user   string
	device string
	key    string
}

// sasBytes derives the six bytes the emoji come from.
func sasBytes(secret []byte, starter, accepter sasParty, transactionID string) ([]byte, error) {
	info := strings.Join([]string{
		"MATRIX_KEY_VERIFICATION_SAS",
		starter.user, starter.device, starter.key,
		accepter.user, accepter.device, accepter.key,
		transactionID,
	}, "|")
	output := make([]byte, 6)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), output); err != nil {
		return nil, fmt.Errorf("deriving SAS bytes: %w", err)
	}
	return output, nil
}

// emojiFromBytes splits the first 42 bits into seven 6-bit indices.
func emojiFromBytes(data []byte) []Emoji {
	var bits uint64
	for _, b := range data[:6] {
		bits = bits<<8 | uint64(b)
	}
	emoji := make([]Emoji, EmojiCount)
	for i := range emoji {
		index := int(bits>>(42-6*i)) & 0x3f
		emoji[i] = Emoji{Index: index, Symbol: emojiTable[index].symbol, Description: emojiTable[index].description}
	}
	return emoji
}

// macCalculator computes hkdf-hmac-sha256.v2 MACs for messages sent by
// one device to another.
type macCalculator struct {
	secret         []byte
	senderUser     string
	senderDevice   string
	receiverUser   string
	receiverDevice string
	transactionID  string
}

func (c macCalculator) mac(keyID, value string) (string, error) {
	info := "MATRIX_KEY_VERIFICATION_MAC" + c.senderUser + c.senderDevice +
		c.receiverUser + c.receiverDevice + c.transactionID + keyID
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, c.secret, nil, []byte(info)), key); err != nil {
		return "", fmt.Errorf("deriving MAC key: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(value))
	return encodeKey(mac.Sum(nil)), nil
}

// macContent builds the MAC message for keys (key ID to public key).
func (c macCalculator) macContent(keys map[string]string) (MACContent, error) {
	content := MACContent{TransactionID: c.transactionID, MAC: make(map[string]string, len(keys))}
	keyIDs := make([]string, 0, len(keys))
	for keyID, value := range keys {
		mac, err := c.mac(keyID, value)
		if err != nil {
			return MACContent{}, err
		}
		content.MAC[keyID] = mac
		keyIDs = append(keyIDs, keyID)
	}
	slices.Sort(keyIDs)
	keysMAC, err := c.mac("KEY_IDS", strings.Join(keyIDs, ","))
	if err != nil {
		return MACContent{}, err
	}
	content.Keys = keysMAC
	return content, nil
}

// verify checks a received MAC message. known maps the key IDs this
// side can check to their public keys; required must be among them and
// present in the message. Key IDs in the message that are not known
// are covered by the KEY_IDS MAC but not checked individually.
func (c macCalculator) verify(content MACContent, known map[string]string, required string) error {
	keyIDs := make([]string, 0, len(content.MAC))
	for keyID := range content.MAC {
		keyIDs = append(keyIDs, keyID)
	}
	slices.Sort(keyIDs)
	expected, err := c.mac("KEY_IDS", strings.Join(keyIDs, ","))
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(content.Keys)) {
		return fmt.Errorf("key list MAC does not match")
	}
	if _, ok := content.MAC[required]; !ok {
		return fmt.Errorf("no MAC for %s", required)
	}
	for keyID, received := range content.MAC {
		value, ok := known[keyID]
		if !ok {
			continue
		}
		expected, err := c.mac(keyID, value)
		if err != nil {
			return err
		}
		if !hmac.Equal([]byte(expected), []byte(received)) {
			return fmt.Errorf("MAC for %s does not match", keyID)
		}
	}
	return nil
}
