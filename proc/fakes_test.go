package proc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
)

const (
	testGuild    = snowflake.ID(100)
	testLobby    = snowflake.ID(200)
	testCategory = snowflake.ID(300)
	testSelf     = snowflake.ID(999)
)

type fakeChannel struct {
	guild  snowflake.ID
	parent snowflake.ID
	name   string
}

type createCall struct {
	guild      snowflake.ID
	name       string
	parent     snowflake.ID
	overwrites []discord.PermissionOverwrite
}

type moveCall struct {
	user    snowflake.ID
	channel *snowflake.ID
}

// fakePlatform is an in-memory Discord that records every call.
type fakePlatform struct {
	mu sync.Mutex

	nextID     snowflake.ID
	channels   map[snowflake.ID]fakeChannel
	voice      map[snowflake.ID]snowflake.ID
	overwrites map[snowflake.ID]map[snowflake.ID]discord.PermissionOverwrite
	noManage   map[snowflake.ID]bool

	creates []createCall
	deletes []snowflake.ID
	moves   []moveCall
	notices []snowflake.ID

	createErr    error
	deleteErr    error
	noticeErr    error
	overwriteErr map[snowflake.ID]error

	// moveIgnored makes MoveMember report success without moving anyone.
	moveIgnored bool
	moveErr     error

	// leaveOnRead disconnects the member being looked up on that
	// MemberVoiceChannel call (1-based). Zero disables it.
	leaveOnRead int
	voiceReads  int
}

func newFakePlatform() *fakePlatform {
	p := &fakePlatform{
		nextID:       5000,
		channels:     make(map[snowflake.ID]fakeChannel),
		voice:        make(map[snowflake.ID]snowflake.ID),
		overwrites:   make(map[snowflake.ID]map[snowflake.ID]discord.PermissionOverwrite),
		noManage:     make(map[snowflake.ID]bool),
		overwriteErr: make(map[snowflake.ID]error),
	}
	p.channels[testLobby] = fakeChannel{guild: testGuild, parent: testCategory, name: "Join to Create"}
	return p
}

func (p *fakePlatform) addChannel(id snowflake.ID, parent snowflake.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels[id] = fakeChannel{guild: testGuild, parent: parent}
}

func (p *fakePlatform) removeChannel(id snowflake.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.channels, id)
}

func (p *fakePlatform) place(user, channel snowflake.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if channel == 0 {
		delete(p.voice, user)
		return
	}
	p.voice[user] = channel
}

func (p *fakePlatform) overwritesOn(channel snowflake.ID) map[snowflake.ID]discord.PermissionOverwrite {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[snowflake.ID]discord.PermissionOverwrite, len(p.overwrites[channel]))
	for k, v := range p.overwrites[channel] {
		out[k] = v
	}
	return out
}

func (p *fakePlatform) createCalls() []createCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]createCall(nil), p.creates...)
}

func (p *fakePlatform) deleteCalls() []snowflake.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]snowflake.ID(nil), p.deletes...)
}

func (p *fakePlatform) moveCalls() []moveCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]moveCall(nil), p.moves...)
}

func (p *fakePlatform) disconnects() int {
	n := 0
	for _, m := range p.moveCalls() {
		if m.channel == nil {
			n++
		}
	}
	return n
}

func (p *fakePlatform) CreateVoiceChannel(_ context.Context, guildID snowflake.ID, name string, parentID snowflake.ID, overwrites []discord.PermissionOverwrite) (snowflake.ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creates = append(p.creates, createCall{guild: guildID, name: name, parent: parentID, overwrites: overwrites})
	if p.createErr != nil {
		return 0, p.createErr
	}
	p.nextID++
	id := p.nextID
	p.channels[id] = fakeChannel{guild: guildID, parent: parentID, name: name}
	for _, o := range overwrites {
		if p.overwrites[id] == nil {
			p.overwrites[id] = make(map[snowflake.ID]discord.PermissionOverwrite)
		}
		p.overwrites[id][o.ID()] = o
	}
	return id, nil
}

func (p *fakePlatform) MoveMember(_ context.Context, _ snowflake.ID, userID snowflake.ID, channelID *snowflake.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.moves = append(p.moves, moveCall{user: userID, channel: channelID})
	if p.moveErr != nil {
		return p.moveErr
	}
	if _, inVoice := p.voice[userID]; !inVoice {
		return ErrGone
	}
	if channelID == nil {
		delete(p.voice, userID)
		return nil
	}
	if !p.moveIgnored {
		p.voice[userID] = *channelID
	}
	return nil
}

func (p *fakePlatform) DeleteChannel(_ context.Context, channelID snowflake.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deletes = append(p.deletes, channelID)
	if p.deleteErr != nil {
		return p.deleteErr
	}
	if _, ok := p.channels[channelID]; !ok {
		return ErrGone
	}
	delete(p.channels, channelID)
	for user, ch := range p.voice {
		if ch == channelID {
			delete(p.voice, user)
		}
	}
	return nil
}

func (p *fakePlatform) SetOverwrite(_ context.Context, channelID snowflake.ID, overwrite discord.PermissionOverwrite) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.overwriteErr[overwrite.ID()]; err != nil {
		return err
	}
	if p.overwrites[channelID] == nil {
		p.overwrites[channelID] = make(map[snowflake.ID]discord.PermissionOverwrite)
	}
	p.overwrites[channelID][overwrite.ID()] = overwrite
	return nil
}

func (p *fakePlatform) SendDirectNotice(_ context.Context, userID snowflake.ID, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, userID)
	return p.noticeErr
}

func (p *fakePlatform) SelfID() snowflake.ID { return testSelf }

func (p *fakePlatform) ChannelExists(channelID snowflake.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.channels[channelID]
	return ok
}

func (p *fakePlatform) ChannelParent(channelID snowflake.ID) (snowflake.ID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.channels[channelID]
	if !ok || ch.parent == 0 {
		return 0, false
	}
	return ch.parent, true
}

func (p *fakePlatform) MemberVoiceChannel(_ snowflake.ID, userID snowflake.ID) (snowflake.ID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.voiceReads++
	if p.leaveOnRead > 0 && p.voiceReads == p.leaveOnRead {
		delete(p.voice, userID)
	}
	ch, ok := p.voice[userID]
	return ch, ok
}

func (p *fakePlatform) Occupants(_ snowflake.ID, channelID snowflake.ID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ch := range p.voice {
		if ch == channelID {
			n++
		}
	}
	return n
}

func (p *fakePlatform) VoiceChannelsIn(guildID, categoryID snowflake.ID) []snowflake.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []snowflake.ID
	for id, ch := range p.channels {
		if ch.guild == guildID && ch.parent == categoryID {
			ids = append(ids, id)
		}
	}
	return ids
}

func (p *fakePlatform) CanManage(channelID snowflake.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.noManage[channelID]
}

// memoryStore is a RoomStore kept in a map.
type memoryStore struct {
	mu      sync.Mutex
	rooms   map[snowflake.ID]ManagedRoom
	sets    int
	deletes int
	getErr  error
	setErr  error
}

func newMemoryStore(rooms ...ManagedRoom) *memoryStore {
	s := &memoryStore{rooms: make(map[snowflake.ID]ManagedRoom)}
	for _, r := range rooms {
		s.rooms[r.ChannelID] = r
	}
	return s
}

func (s *memoryStore) GetAllRooms(context.Context) ([]ManagedRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	out := make([]ManagedRoom, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	return out, nil
}

func (s *memoryStore) SetRoomHost(_ context.Context, guildID, channelID, hostID snowflake.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	if s.setErr != nil {
		return s.setErr
	}
	r, ok := s.rooms[channelID]
	if !ok {
		r = ManagedRoom{ChannelID: channelID, CreatedAt: time.Now()}
	}
	r.GuildID = guildID
	r.HostID = hostID
	s.rooms[channelID] = r
	return nil
}

func (s *memoryStore) DeleteRoom(_ context.Context, channelID snowflake.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	delete(s.rooms, channelID)
	return nil
}

func (s *memoryStore) host(channelID snowflake.ID) (snowflake.ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[channelID]
	return r.HostID, ok
}

func (s *memoryStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

var errFake = errors.New("fake platform failure")
