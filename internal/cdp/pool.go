package cdp

import "sync"

// workerPool 固定并发的任务池，队列满时拒绝提交
type workerPool struct {
	tasks chan func()
	wg    sync.WaitGroup
	once  sync.Once
	mu    sync.RWMutex
	done  bool
}

func newWorkerPool(workers, queue int) *workerPool {
	p := &workerPool{tasks: make(chan func(), queue)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for fn := range p.tasks {
				fn()
			}
		}()
	}
	return p
}

// submit 提交任务，池已停止或队列已满时返回 false
func (p *workerPool) submit(fn func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.done {
		return false
	}
	select {
	case p.tasks <- fn:
		return true
	default:
		return false
	}
}

// stop 等待已入队任务执行完毕
func (p *workerPool) stop() {
	p.once.Do(func() {
		p.mu.Lock()
		p.done = true
		close(p.tasks)
		p.mu.Unlock()
		p.wg.Wait()
	})
}
