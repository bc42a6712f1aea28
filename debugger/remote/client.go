package remote

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	e "github.com/fansqz/sampsharp-debugger/error"
	"github.com/google/go-dap"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

// client 和调试代理之间的DAP连接
// 响应按照request_seq交给等待的请求，事件按照到达顺序在单独的协程中分发，
// 事件处理函数中可以继续发送请求
type client struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	writeLock sync.Mutex

	seqLock deadlock.Mutex
	seq     int

	pendingLock deadlock.Mutex
	pending     map[int]chan dap.Message

	events  *eventQueue
	onEvent func(message dap.Message)
	onClose func(err error)

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

func newClient(conn net.Conn, onEvent func(message dap.Message), onClose func(err error)) *client {
	c := &client{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		writer:  bufio.NewWriter(conn),
		pending: map[int]chan dap.Message{},
		events:  newEventQueue(),
		onEvent: onEvent,
		onClose: onClose,
		closed:  make(chan struct{}),
	}
	c.wg.Add(2)
	go c.readLoop()
	go c.dispatchLoop()
	return c
}

// readLoop 读取消息，连接断开时结束
func (c *client) readLoop() {
	defer c.wg.Done()
	for {
		message, err := dap.ReadProtocolMessage(c.reader)
		if err != nil {
			c.shutdown(err)
			return
		}
		switch m := message.(type) {
		case dap.ResponseMessage:
			response := m.GetResponse()
			c.pendingLock.Lock()
			ch, ok := c.pending[response.RequestSeq]
			delete(c.pending, response.RequestSeq)
			c.pendingLock.Unlock()
			if ok {
				ch <- message
			} else {
				logrus.Warnf("[remote] response for unknown request %d", response.RequestSeq)
			}
		case dap.EventMessage:
			c.events.push(message)
		default:
			logrus.Debugf("[remote] ignore message %T", message)
		}
	}
}

func (c *client) dispatchLoop() {
	defer c.wg.Done()
	for {
		message, ok := c.events.pop()
		if !ok {
			return
		}
		if c.onEvent != nil {
			c.onEvent(message)
		}
	}
}

func (c *client) nextSeq() int {
	c.seqLock.Lock()
	defer c.seqLock.Unlock()
	c.seq++
	return c.seq
}

func (c *client) write(message dap.Message) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	if err := dap.WriteProtocolMessage(c.writer, message); err != nil {
		return fmt.Errorf("write %w: %v", e.ErrRemoteClosed, err)
	}
	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("flush %w: %v", e.ErrRemoteClosed, err)
	}
	return nil
}

// request 发送请求并等待响应，失败的响应转换为RemoteError
func (c *client) request(ctx context.Context, req dap.RequestMessage) (dap.Message, error) {
	request := req.GetRequest()
	request.Type = "request"
	request.Seq = c.nextSeq()

	ch := make(chan dap.Message, 1)
	c.pendingLock.Lock()
	select {
	case <-c.closed:
		c.pendingLock.Unlock()
		return nil, e.ErrRemoteClosed
	default:
	}
	c.pending[request.Seq] = ch
	c.pendingLock.Unlock()

	if err := c.write(req); err != nil {
		c.forget(request.Seq)
		return nil, err
	}

	select {
	case message := <-ch:
		response := message.(dap.ResponseMessage).GetResponse()
		if !response.Success {
			return nil, &e.RemoteError{Command: request.Command, Message: failureMessage(message)}
		}
		return message, nil
	case <-c.closed:
		return nil, e.ErrRemoteClosed
	case <-ctx.Done():
		c.forget(request.Seq)
		return nil, ctx.Err()
	}
}

func (c *client) forget(seq int) {
	c.pendingLock.Lock()
	delete(c.pending, seq)
	c.pendingLock.Unlock()
}

func failureMessage(message dap.Message) string {
	if errorResponse, ok := message.(*dap.ErrorResponse); ok && errorResponse.Body.Error != nil {
		if errorResponse.Body.Error.Format != "" {
			return errorResponse.Body.Error.Format
		}
	}
	return message.(dap.ResponseMessage).GetResponse().Message
}

// shutdown 关闭连接，唤醒所有等待中的请求
func (c *client) shutdown(err error) {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
		c.events.close()
		c.pendingLock.Lock()
		c.pending = map[int]chan dap.Message{}
		c.pendingLock.Unlock()
		if c.onClose != nil {
			go c.onClose(err)
		}
	})
}

// Close 主动关闭连接
func (c *client) Close() {
	c.shutdown(nil)
}

func (c *client) Done() <-chan struct{} {
	return c.closed
}

// eventQueue 无界的事件队列，读取协程不会被事件处理阻塞
type eventQueue struct {
	lock   sync.Mutex
	cond   *sync.Cond
	queue  *linkedlistqueue.Queue
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{queue: linkedlistqueue.New()}
	q.cond = sync.NewCond(&q.lock)
	return q
}

func (q *eventQueue) push(message dap.Message) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.closed {
		return
	}
	q.queue.Enqueue(message)
	q.cond.Signal()
}

// pop 取出下一个事件，队列关闭并且为空时返回false
func (q *eventQueue) pop() (dap.Message, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	for q.queue.Empty() && !q.closed {
		q.cond.Wait()
	}
	value, ok := q.queue.Dequeue()
	if !ok {
		return nil, false
	}
	return value.(dap.Message), true
}

func (q *eventQueue) close() {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
