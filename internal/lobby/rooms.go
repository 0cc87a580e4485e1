package lobby

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room is full")
	ErrSelfJoin     = errors.New("cannot join your own room")
)

const (
	codeLength   = 6
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeTries = 16
)

// Room is a private match waiting for its guest.
type Room struct {
	Code       string
	HostID     string
	GuestID    string
	Difficulty string
	CreatedAt  time.Time
}

// Rooms maps room codes to pending rooms.
type Rooms struct {
	mu    sync.Mutex
	rooms map[string]*Room
	now   func() time.Time
}

// NewRooms creates an empty registry. now defaults to time.Now.
func NewRooms(now func() time.Time) *Rooms {
	if now == nil {
		now = time.Now
	}
	return &Rooms{rooms: make(map[string]*Room), now: now}
}

// Create opens a room for hostID and returns it.
func (r *Rooms) Create(hostID, difficulty string) (Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for range maxCodeTries {
		code, err := generateCode()
		if err != nil {
			return Room{}, err
		}
		if _, taken := r.rooms[code]; taken {
			continue
		}
		room := &Room{Code: code, HostID: hostID, Difficulty: difficulty, CreatedAt: r.now()}
		r.rooms[code] = room
		return *room, nil
	}
	return Room{}, fmt.Errorf("no free room code after %d tries", maxCodeTries)
}

// Join seats guestID in the room. The room stays registered, full, until
// Close is called.
func (r *Rooms) Join(code, guestID string) (Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[code]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	if room.GuestID != "" {
		return Room{}, ErrRoomFull
	}
	if room.HostID == guestID {
		return Room{}, ErrSelfJoin
	}
	room.GuestID = guestID
	return *room, nil
}

// Close removes a room.
func (r *Rooms) Close(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, code)
}

// RemoveHost closes every room hosted by hostID and returns their codes.
func (r *Rooms) RemoveHost(hostID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var codes []string
	for code, room := range r.rooms {
		if room.HostID == hostID {
			codes = append(codes, code)
			delete(r.rooms, code)
		}
	}
	return codes
}

// Expire closes open rooms older than maxAge.
func (r *Rooms) Expire(maxAge time.Duration) []Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var expired []Room
	for code, room := range r.rooms {
		if room.GuestID == "" && now.Sub(room.CreatedAt) > maxAge {
			expired = append(expired, *room)
			delete(r.rooms, code)
		}
	}
	return expired
}

// Len returns the number of open rooms.
func (r *Rooms) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func generateCode() (string, error) {
	return drawCode(rand.Reader)
}

// drawCode maps random bytes onto the alphabet, discarding bytes at or above
// the largest multiple of its length so every symbol is equally likely.
func drawCode(src io.Reader) (string, error) {
	limit := byte(256 / len(codeAlphabet) * len(codeAlphabet))
	code := make([]byte, 0, codeLength)
	buf := make([]byte, codeLength*2)
	for len(code) < codeLength {
		if _, err := io.ReadFull(src, buf); err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			code = append(code, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(code) == codeLength {
				break
			}
		}
	}
	return string(code), nil
}
