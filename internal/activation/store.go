package activation

import (
	"context"
	"log/slog"
	"sync"

	apierrors "keyportal/internal/errors"
)

// Store owns the activation workflow state. All operations are total:
// every remote failure path terminates in an errors-populated snapshot,
// and no operation panics regardless of the state it runs in.
//
// Remote calls run outside the lock. Each dispatch captures the store
// epoch; Reset and key selection advance it, so a late response from an
// abandoned flow can never overwrite state that was cleared while the
// call was in flight.
type Store struct {
	mu       sync.Mutex
	state    State
	epoch    uint64
	inFlight bool

	client   Client
	identity Identity
	logger   *slog.Logger

	subs      map[int]func(State)
	nextSubID int
}

// NewStore creates an empty store for the authenticated identity
func NewStore(client Client, identity Identity, logger *slog.Logger) *Store {
	return &Store{
		client:   client,
		identity: identity,
		logger:   logger.With(slog.String("component", "activation_store")),
		subs:     make(map[int]func(State)),
	}
}

// Snapshot returns a copy of the current state
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// InFlight reports whether a validate or deactivate operation is
// currently outstanding; the UI disables re-submission while true.
func (s *Store) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Subscribe registers fn to be called with a snapshot after every
// committed mutation. The returned function unsubscribes.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// commit applies mutate under the lock and notifies subscribers, but only
// if the store is still in the epoch the operation was dispatched in.
// Returns false when the response was stale and dropped.
func (s *Store) commit(epoch uint64, mutate func(*State)) bool {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		s.logger.Debug("stale response dropped",
			slog.Uint64("dispatch_epoch", epoch),
			slog.Uint64("current_epoch", s.epoch))
		return false
	}
	mutate(&s.state)
	snapshot := s.state.clone()
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
	return true
}

// currentEpoch reads the epoch for a new dispatch
func (s *Store) currentEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// mutateNow applies a local (non-remote) mutation unconditionally and
// notifies subscribers. bumpEpoch invalidates in-flight dispatches.
func (s *Store) mutateNow(bumpEpoch bool, mutate func(*State)) {
	s.mu.Lock()
	if bumpEpoch {
		s.epoch++
	}
	mutate(&s.state)
	snapshot := s.state.clone()
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

// tryBegin marks an exclusive mutation in flight. At most one validate or
// deactivate runs at a time; the UI observes InFlight to disable buttons.
func (s *Store) tryBegin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return false
	}
	s.inFlight = true
	return true
}

func (s *Store) end() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// FetchLicenses loads the user's license list through the relay. On
// success it replaces Licenses; on failure it replaces Errors.
func (s *Store) FetchLicenses(ctx context.Context) {
	epoch := s.currentEpoch()

	licenses, errs := s.client.FetchLicenses(ctx, s.identity.Email)
	if len(errs) > 0 {
		s.commit(epoch, func(st *State) { st.Errors = errs })
		return
	}

	s.commit(epoch, func(st *State) { st.Licenses = licenses })
}

// SetKey selects a license key without any remote calls. Changing the key
// starts a new dispatch context: responses from the previous key are
// stale from here on.
func (s *Store) SetKey(key string) {
	s.mutateNow(true, func(st *State) { st.Key = key })
}

// SelectLicenseKey sets the key and triggers the validation flow
func (s *Store) SelectLicenseKey(ctx context.Context, key string) {
	s.SetKey(key)
	s.ValidateLicenseKeyWithKey(ctx)
}

// ValidateLicenseKeyWithKey runs the two-phase validation flow for the
// currently selected key.
//
// Phase one resolves the fingerprint through the relay's ownership walk.
// A Machine not found error is continuable: a valid key with no
// activations yet still gets validated, just with an empty scope. Any
// other phase-one error is terminal for this attempt.
//
// Phase two validates the key in the resolved fingerprint scope and
// replaces Validation and License wholesale. Machines are re-listed
// whenever a license record came back, valid or not: an over-limit or
// scope-mismatched license still has machines worth displaying.
func (s *Store) ValidateLicenseKeyWithKey(ctx context.Context) {
	if !s.tryBegin() {
		s.logger.Debug("validation already in flight, ignoring")
		return
	}
	defer s.end()

	s.mu.Lock()
	key := s.state.Key
	epoch := s.epoch
	s.mu.Unlock()

	fingerprint, errs := s.client.QueryAndValidateLicenseKey(ctx, key, s.identity.Email)
	if len(errs) > 0 {
		if !apierrors.HasTitle(errs, apierrors.TitleMachineNotFound) {
			s.commit(epoch, func(st *State) { st.Errors = errs })
			return
		}
		// No machines allocated to the key yet; validate with empty scope.
		s.logger.InfoContext(ctx, "no machines allocated to key, continuing",
			slog.String("key", key))
	}

	if fingerprint != "" {
		if !s.commit(epoch, func(st *State) { st.Fingerprint = fingerprint }) {
			return
		}
	}

	validation, license, errs := s.client.ValidateLicenseKeyWithKey(ctx, key, fingerprint)
	if len(errs) > 0 {
		s.commit(epoch, func(st *State) { st.Errors = errs })
		return
	}

	if !s.commit(epoch, func(st *State) {
		st.Validation = validation
		st.License = license
	}) {
		return
	}

	if license != nil {
		s.listMachines(ctx, epoch, license.Key)
	}
}

// ListMachinesForLicense refreshes the machine list for the current
// license. Without a license record it is a no-op.
func (s *Store) ListMachinesForLicense(ctx context.Context) {
	s.mu.Lock()
	epoch := s.epoch
	var licenseKey string
	if s.state.License != nil {
		licenseKey = s.state.License.Key
	}
	s.mu.Unlock()

	if licenseKey == "" {
		s.logger.Debug("no license selected, skipping machine listing")
		return
	}

	s.listMachines(ctx, epoch, licenseKey)
}

func (s *Store) listMachines(ctx context.Context, epoch uint64, licenseKey string) {
	machines, errs := s.client.ListMachinesForLicense(ctx, licenseKey)
	if len(errs) > 0 {
		s.commit(epoch, func(st *State) { st.Errors = errs })
		return
	}

	s.commit(epoch, func(st *State) { st.Machines = machines })
}

// DeactivateMachineForLicense deletes one activation. Success clears any
// previous errors, re-lists machines, and re-runs the full validation
// flow: a license that had exceeded its seat limit can transition back to
// valid once a seat frees up.
func (s *Store) DeactivateMachineForLicense(ctx context.Context, machineID string) {
	if !s.tryBegin() {
		s.logger.Debug("deactivation already in flight, ignoring")
		return
	}

	s.mu.Lock()
	epoch := s.epoch
	var licenseKey string
	if s.state.License != nil {
		licenseKey = s.state.License.Key
	}
	s.mu.Unlock()

	if licenseKey == "" {
		s.end()
		s.logger.Debug("no license selected, skipping deactivation")
		return
	}

	errs := s.client.DeactivateMachineForLicense(ctx, licenseKey, machineID)
	if len(errs) > 0 {
		s.commit(epoch, func(st *State) { st.Errors = errs })
		s.end()
		return
	}

	if !s.commit(epoch, func(st *State) { st.Errors = nil }) {
		s.end()
		return
	}

	s.listMachines(ctx, epoch, licenseKey)

	// Revalidate the current license; release the in-flight slot first so
	// the validation flow can claim it.
	s.end()
	s.ValidateLicenseKeyWithKey(ctx)
}

// ClearError removes one error by identity; other state is untouched
func (s *Store) ClearError(target apierrors.APIError) {
	s.mutateNow(false, func(st *State) {
		filtered := make([]apierrors.APIError, 0, len(st.Errors))
		for _, e := range st.Errors {
			if e != target {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) == 0 {
			filtered = nil
		}
		st.Errors = filtered
	})
}

// Reset returns the store to its initial empty state and invalidates any
// in-flight dispatches. The fetched license list survives, matching a
// return to the selection screen.
func (s *Store) Reset() {
	s.mutateNow(true, func(st *State) {
		*st = State{Licenses: st.Licenses}
	})
}
