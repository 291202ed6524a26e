package db

import (
	"context"
	"sync"

	"gorm.io/gorm"
)

type (
	txKey    struct{}
	hooksKey struct{}
)

// commitHooks collects work that must only run once the outermost
// transaction has committed.
type commitHooks struct {
	mu  sync.Mutex
	fns []func(ctx context.Context)
}

func (h *commitHooks) add(fns ...func(ctx context.Context)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, fns...)
}

func (h *commitHooks) drain() []func(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fns := h.fns
	h.fns = nil
	return fns
}

// WithTx returns a context carrying tx so repositories called further down
// the stack join the same transaction.
func WithTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// Conn returns the transaction carried by ctx, or fallback when there is none.
// The result is always bound to ctx.
func Conn(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx.WithContext(ctx)
	}
	return fallback.WithContext(ctx)
}

// Transaction runs fn in a transaction. If ctx already carries one, fn joins it.
func Transaction(ctx context.Context, fallback *gorm.DB, fn func(ctx context.Context) error) error {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return fn(ctx)
	}
	hooks := &commitHooks{}
	err := fallback.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(WithTx(ctx, tx), hooksKey{}, hooks))
	})
	if err != nil {
		return err
	}
	for _, hook := range hooks.drain() {
		hook(ctx)
	}
	return nil
}

// AfterCommit defers hook until the transaction carried by ctx commits. The
// hook is dropped if that transaction, or the savepoint it was registered in,
// rolls back. Without a transaction the hook runs immediately.
func AfterCommit(ctx context.Context, hook func(ctx context.Context)) {
	if hooks, ok := ctx.Value(hooksKey{}).(*commitHooks); ok && hooks != nil {
		hooks.add(hook)
		return
	}
	hook(ctx)
}

// Nested runs fn in a savepoint inside the transaction carried by ctx, or in
// a fresh transaction when there is none. An error from fn rolls back only the
// savepoint, so the surrounding transaction stays usable.
func Nested(ctx context.Context, fallback *gorm.DB, fn func(ctx context.Context) error) error {
	child := &commitHooks{}
	err := Conn(ctx, fallback).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(WithTx(ctx, tx), hooksKey{}, child))
	})
	if err != nil {
		return err
	}
	if parent, ok := ctx.Value(hooksKey{}).(*commitHooks); ok && parent != nil {
		parent.add(child.drain()...)
		return nil
	}
	for _, hook := range child.drain() {
		hook(ctx)
	}
	return nil
}
