package model

import (
	"context"
	"errors"
	"sync"

	"google.golang.org/grpc"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/forumdm/internal/rpc"
)

// ErrNoConversation is returned by conversation actions when none is open.
var ErrNoConversation = errors.New("no conversation open")

// SessionAPI is the part of the session service the UI uses.
type SessionAPI interface {
	GetStatus(ctx context.Context, in *rpc.Empty, opts ...grpc.CallOption) (*rpc.StatusResponse, error)
}

// ChatAPI is the part of the chat service the UI uses.
type ChatAPI interface {
	OpenConversation(ctx context.Context, in *rpc.PeerRequest, opts ...grpc.CallOption) (*rpc.ConversationResponse, error)
	LoadOlder(ctx context.Context, in *rpc.PeerRequest, opts ...grpc.CallOption) (*rpc.ConversationResponse, error)
	GetConversation(ctx context.Context, in *rpc.PeerRequest, opts ...grpc.CallOption) (*rpc.ConversationResponse, error)
	SendMessage(ctx context.Context, in *rpc.SendRequest, opts ...grpc.CallOption) (*rpc.SendResponse, error)
	RecallMessage(ctx context.Context, in *rpc.RecallRequest, opts ...grpc.CallOption) (*rpc.Empty, error)
	MarkRead(ctx context.Context, in *rpc.PeerRequest, opts ...grpc.CallOption) (*rpc.MarkReadResponse, error)
}

// InboxAPI is the part of the inbox service the UI uses.
type InboxAPI interface {
	ListThreads(ctx context.Context, in *rpc.Empty, opts ...grpc.CallOption) (*rpc.ThreadsResponse, error)
	RefreshThreads(ctx context.Context, in *rpc.Empty, opts ...grpc.CallOption) (*rpc.ThreadsResponse, error)
	LoadMoreThreads(ctx context.Context, in *rpc.Empty, opts ...grpc.CallOption) (*rpc.ThreadsResponse, error)
}

// ViewModel caches daemon state for the views.
type ViewModel struct {
	session SessionAPI
	chat    ChatAPI
	inbox   InboxAPI

	mu           sync.RWMutex
	status       *rpc.StatusResponse
	threads      *rpc.ThreadsResponse
	conversation *rpc.ConversationResponse
	activePeer   int64

	Flash Flash
}

// NewViewModel creates a view model over the daemon services.
func NewViewModel(session SessionAPI, chat ChatAPI, inbox InboxAPI) *ViewModel {
	return &ViewModel{session: session, chat: chat, inbox: inbox}
}

// LoadStatus fetches the connection status.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	resp, err := vm.session.GetStatus(ctx, &rpc.Empty{})
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = resp
	vm.mu.Unlock()
	return nil
}

// SetState records a state reported by the status stream.
func (vm *ViewModel) SetState(state string) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.status == nil {
		vm.status = &rpc.StatusResponse{}
	}
	vm.status.State = state
}

// LoadThreads fetches the cached thread list.
func (vm *ViewModel) LoadThreads(ctx context.Context) error {
	return vm.setThreads(vm.inbox.ListThreads(ctx, &rpc.Empty{}))
}

// RefreshThreads asks the daemon to refetch the first page.
func (vm *ViewModel) RefreshThreads(ctx context.Context) error {
	return vm.setThreads(vm.inbox.RefreshThreads(ctx, &rpc.Empty{}))
}

// LoadMoreThreads appends the next page of threads.
func (vm *ViewModel) LoadMoreThreads(ctx context.Context) error {
	return vm.setThreads(vm.inbox.LoadMoreThreads(ctx, &rpc.Empty{}))
}

func (vm *ViewModel) setThreads(resp *rpc.ThreadsResponse, err error) error {
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.threads = resp
	vm.mu.Unlock()
	return nil
}

// Open makes peer the active conversation, loads it and marks it read.
func (vm *ViewModel) Open(ctx context.Context, peer int64) error {
	resp, err := vm.chat.OpenConversation(ctx, &rpc.PeerRequest{PeerID: peer})
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.activePeer = peer
	vm.conversation = resp
	vm.mu.Unlock()
	if _, err := vm.chat.MarkRead(ctx, &rpc.PeerRequest{PeerID: peer}); err != nil {
		vm.Flash.Err("mark read: " + message(err))
	}
	return nil
}

// Close forgets the active conversation.
func (vm *ViewModel) Close() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.activePeer = 0
	vm.conversation = nil
}

// ReloadConversation refetches the active conversation.
func (vm *ViewModel) ReloadConversation(ctx context.Context) error {
	peer := vm.ActivePeer()
	if peer == 0 {
		return ErrNoConversation
	}
	resp, err := vm.chat.GetConversation(ctx, &rpc.PeerRequest{PeerID: peer})
	return vm.setConversation(peer, resp, err)
}

// LoadOlder prepends the previous page of the active conversation.
func (vm *ViewModel) LoadOlder(ctx context.Context) error {
	peer := vm.ActivePeer()
	if peer == 0 {
		return ErrNoConversation
	}
	resp, err := vm.chat.LoadOlder(ctx, &rpc.PeerRequest{PeerID: peer})
	return vm.setConversation(peer, resp, err)
}

func (vm *ViewModel) setConversation(peer int64, resp *rpc.ConversationResponse, err error) error {
	if err != nil {
		return err
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.activePeer == peer {
		vm.conversation = resp
	}
	return nil
}

// Send posts text to the active conversation. On failure the caller keeps
// the draft; the returned error carries the daemon's message.
func (vm *ViewModel) Send(ctx context.Context, text string) error {
	peer := vm.ActivePeer()
	if peer == 0 {
		return ErrNoConversation
	}
	if _, err := vm.chat.SendMessage(ctx, &rpc.SendRequest{PeerID: peer, Body: text}); err != nil {
		return errors.New(message(err))
	}
	return vm.ReloadConversation(ctx)
}

// RecallLast recalls the newest message of the active conversation that is
// still recallable.
func (vm *ViewModel) RecallLast(ctx context.Context) error {
	peer := vm.ActivePeer()
	if peer == 0 {
		return ErrNoConversation
	}
	id, ok := LastRecallable(vm.Conversation())
	if !ok {
		return errors.New("nothing to recall")
	}
	if _, err := vm.chat.RecallMessage(ctx, &rpc.RecallRequest{PeerID: peer, MessageID: id}); err != nil {
		return errors.New(message(err))
	}
	return vm.ReloadConversation(ctx)
}

// LastRecallable returns the id of the newest recallable item in conv.
func LastRecallable(conv *rpc.ConversationResponse) (int64, bool) {
	if conv == nil {
		return 0, false
	}
	for i := len(conv.Items) - 1; i >= 0; i-- {
		it := conv.Items[i]
		if it.Message != nil && it.Recallable {
			return it.Message.ID, true
		}
	}
	return 0, false
}

func (vm *ViewModel) ActivePeer() int64 {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.activePeer
}

func (vm *ViewModel) Status() *rpc.StatusResponse {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}

func (vm *ViewModel) Threads() *rpc.ThreadsResponse {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.threads
}

func (vm *ViewModel) Conversation() *rpc.ConversationResponse {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.conversation
}

// message strips the gRPC framing from daemon errors.
func message(err error) string {
	if st, ok := grpcstatus.FromError(err); ok {
		return st.Message()
	}
	return err.Error()
}
