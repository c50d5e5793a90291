// Package debounce は呼び出し元ごとに独立した遅延実行を提供する。
package debounce

import (
	"sync"
	"time"
)

// Debouncer は最後の呼び出しから一定時間経過後に1度だけ関数を実行する。
// 新しい呼び出しは予約中の実行を取り消して再予約する。
// 状態はインスタンスに閉じており、利用者間で共有されない。
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	stopped bool
}

// New はDebouncerを生成する。
func New(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Call はfnの実行を予約する。Stop後の呼び出しは無視される。
func (d *Debouncer) Call(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}

	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		// Stopで止めきれずに発火したタイマーは世代で判別する
		if d.stopped || gen != d.gen {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()
		fn()
	})
}

// Cancel は予約中の実行を取り消す。
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Stop は予約中の実行を取り消し、以後の予約を受け付けない。
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Pending は実行待ちの予約があるかを返す。
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}
