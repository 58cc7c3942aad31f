package session

// inputWriter 每个传输层一个写协程
// 子进程不读 stdin 时阻塞的是这个协程，事件循环照常处理 Ctrl+C、输出与关闭
type inputWriter struct {
	queue chan []byte
	stop  chan struct{}
}

func newInputWriter(t Transport, onErr func(error)) *inputWriter {
	w := &inputWriter{
		queue: make(chan []byte, inputQueueSize),
		stop:  make(chan struct{}),
	}
	go w.run(t, onErr)
	return w
}

func (w *inputWriter) run(t Transport, onErr func(error)) {
	for {
		select {
		case <-w.stop:
			return
		case p := <-w.queue:
			select {
			case <-w.stop:
				return
			default:
			}
			if err := t.Write(p); err != nil {
				onErr(err)
			}
		}
	}
}

// enqueue 不阻塞，队列满时返回 false
func (w *inputWriter) enqueue(p []byte) bool {
	select {
	case w.queue <- p:
		return true
	default:
		return false
	}
}

// close 停止写协程，未写出的输入丢弃
func (w *inputWriter) close() {
	close(w.stop)
}
