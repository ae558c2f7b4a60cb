package cart

import "time"

// pulse 设置加购提示并重置自动清除定时器
// 窗口内再次加购只会替换消息并重新计时
func (l *Ledger) pulse(msg string) {
	l.mu.Lock()
	l.noticeGen++
	gen := l.noticeGen
	l.notice = msg
	if l.noticeTimer != nil {
		l.noticeTimer.Stop()
	}
	l.noticeTimer = time.AfterFunc(l.noticeDelay, func() { l.clearNotice(gen) })
	listeners := l.onNotice
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(msg)
	}
}

// clearNotice 仅当提示未被更新的加购替换时清除
func (l *Ledger) clearNotice(gen uint64) {
	l.mu.Lock()
	if gen != l.noticeGen {
		l.mu.Unlock()
		return
	}
	l.notice = ""
	l.noticeTimer = nil
	listeners := l.onNotice
	l.mu.Unlock()

	for _, fn := range listeners {
		fn("")
	}
}

// Notice 当前加购提示，空串表示无提示
func (l *Ledger) Notice() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.notice
}

// OnNotice 注册提示变化回调，清除时回调空串
func (l *Ledger) OnNotice(fn func(string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onNotice = append(l.onNotice, fn)
}

// Close 停止提示定时器
func (l *Ledger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.noticeGen++
	if l.noticeTimer != nil {
		l.noticeTimer.Stop()
		l.noticeTimer = nil
	}
	l.notice = ""
}
