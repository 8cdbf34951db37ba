package worker

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan *Job
}

func NewWorker(id int, pool *jobChannelPool) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan *Job),
	}
}

func (w *Worker) Start() {
	go func() {
		defer w.pool.wg.Done()
		defer w.pool.retire(w.jobChannel)
		for {
			w.pool.Release(w.jobChannel)
			select {
			case job := <-w.jobChannel:
				if job == nil {
					return
				}
				w.pool.exec(job)
			case <-w.pool.quit:
				return
			}
		}
	}()
}
