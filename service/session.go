package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/syncache/bus"
	"github.com/IvanBrykalov/syncache/model"
)

// session gates every cache commit. Commits run under the read lock and
// check the generation they started in; SignOut takes the write lock and
// bumps the generation, so nothing from a previous session can land after
// the reset.
type session struct {
	mu   sync.RWMutex
	gen  uint64
	user string
}

func (s *Service) generation() uint64 {
	s.sess.mu.RLock()
	defer s.sess.mu.RUnlock()
	return s.sess.gen
}

// commit runs fn if gen is still the current generation. It reports false
// when the session moved on or fn declined.
func (s *Service) commit(gen uint64, fn func() bool) bool {
	s.sess.mu.RLock()
	defer s.sess.mu.RUnlock()
	if s.sess.gen != gen {
		return false
	}
	return fn()
}

// User returns the signed-in user, or "".
func (s *Service) User() string {
	s.sess.mu.RLock()
	defer s.sess.mu.RUnlock()
	return s.sess.user
}

// SignIn records userID as the session owner. Signing in as someone else
// first signs the previous user out. With persistence configured the cache
// is warmed from the backing store; otherwise collections are fetched
// lazily on first read.
func (s *Service) SignIn(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("service: empty user id")
	}
	if prev := s.User(); prev != "" && prev != userID {
		if err := s.SignOut(ctx); err != nil {
			s.logger.Warn("implicit sign-out incomplete", zap.String("user", prev), zap.Error(err))
		}
	}

	s.sess.mu.Lock()
	s.sess.user = userID
	gen := s.sess.gen
	s.sess.mu.Unlock()

	warmed, err := s.warm(ctx, gen, userID)
	s.logger.Info("signed in", zap.String("user", userID), zap.Int("warmed", warmed))
	if err != nil {
		return fmt.Errorf("service: warm cache for %s: %w", userID, err)
	}
	return nil
}

func (s *Service) warm(ctx context.Context, gen uint64, userID string) (int, error) {
	recs, err := s.persist.Load(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		key, err := model.ParseKey(rec.Key)
		if err != nil || key.UserID != userID {
			s.logger.Debug("skipping persisted record", zap.String("key", rec.Key), zap.Error(err))
			continue
		}
		v, err := s.routes[key.Kind].decode(rec.Payload)
		if err != nil {
			s.logger.Warn("undecodable persisted record", zap.String("key", rec.Key), zap.Error(err))
			continue
		}
		s.commit(gen, func() bool {
			if _, landed := s.store.SetAt(key, v, rec.StoredAt); landed {
				n++
			}
			return true
		})
	}
	return n, nil
}

// SignOut tears the session down: refreshes are cancelled, in-flight
// fetches discarded and the cache cleared atomically, then the user's
// persisted entries are purged and session-reset is published.
func (s *Service) SignOut(ctx context.Context) error {
	s.sess.mu.Lock()
	s.sess.gen++
	user := s.sess.user
	s.sess.user = ""
	cancelled := s.sched.CancelAll()
	dropped := s.group.Reset()
	cleared := s.store.Clear()
	s.sess.mu.Unlock()

	var err error
	if user != "" {
		pctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
		_, err = s.persist.Purge(pctx, user)
		cancel()
	}
	s.bus.Publish(bus.Event{Topic: model.TopicSessionReset, Reason: bus.ReasonReset})
	s.logger.Info("signed out",
		zap.String("user", user),
		zap.Int("refreshes_cancelled", cancelled),
		zap.Int("fetches_dropped", dropped),
		zap.Int("entries_cleared", cleared),
	)
	if err != nil {
		return fmt.Errorf("service: purge persisted entries: %w", err)
	}
	return nil
}

// CancelScope cancels the background refreshes started under scope (see
// refresh.WithScope), typically when a screen goes away. It excludes
// commits, so no refresh of scope lands or publishes once it returns.
func (s *Service) CancelScope(scope string) int {
	s.sess.mu.Lock()
	defer s.sess.mu.Unlock()
	return s.sched.CancelScope(scope)
}
