package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend_LineFormat(t *testing.T) {
	port := NewMockPort()
	ch := New(port)

	require.NoError(t, ch.SendString(IMU, Speed))
	require.NoError(t, ch.Send(Confirm, []byte("80,82"), []byte{}))
	assert.Equal(t, "imu|speed\ncfm|80,82\ncfm|\n", string(port.Written()))
}

func TestSend_Rejects(t *testing.T) {
	ch := New(NewMockPort())

	assert.ErrorIs(t, ch.SendString(Category("xyz"), "a"), ErrUnknownCategory)
	assert.ErrorIs(t, ch.SendString(IMU, "a\nb"), ErrInvalidPayload)
}

func TestSend_WriteError(t *testing.T) {
	port := NewMockPort()
	port.WriteError = errors.New("boom")
	ch := New(port)

	err := ch.SendString(Bluetooth, "m,0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestPeerScenario_SendThenRead(t *testing.T) {
	a, b := Pipe()
	sender, receiver := New(a), New(b)

	require.NoError(t, sender.SendString(IMU, "speed"))
	require.NoError(t, receiver.Poll())

	msg, ok := receiver.Read(IMU)
	require.True(t, ok)
	assert.Equal(t, []byte("speed"), msg)

	_, ok = receiver.Read(IMU)
	assert.False(t, ok)
}

func TestPoll_DispatchesMultipleLines(t *testing.T) {
	port := NewMockPort()
	ch := New(port)

	port.Feed([]byte("imu|bulk\ncfm|ok\nimu|T,80\n"))
	require.NoError(t, ch.Poll())

	pending := ch.PendingCategories()
	assert.Len(t, pending, 2)
	assert.Contains(t, pending, IMU)
	assert.Contains(t, pending, Confirm)

	assert.Equal(t, [][]byte{[]byte("bulk"), []byte("T,80")}, ch.ReadAll(IMU))
	assert.False(t, ch.IsPending(IMU))
	assert.True(t, ch.IsPending(Confirm))
}

func TestPoll_DropsInvalidLines(t *testing.T) {
	port := NewMockPort()
	ch := New(port)

	port.Feed([]byte("garbage\nfoo|bar\n\r\nblt|m,1\r\n"))
	require.NoError(t, ch.Poll())

	assert.Equal(t, map[Category]struct{}{Bluetooth: {}}, ch.PendingCategories())
	msg, ok := ch.Read(Bluetooth)
	require.True(t, ok)
	assert.Equal(t, "m,1", string(msg))
}

func TestPoll_SplitsOnFirstSeparator(t *testing.T) {
	port := NewMockPort()
	ch := New(port)

	port.Feed([]byte("rjt|a|b\n"))
	require.NoError(t, ch.Poll())

	msg, ok := ch.Read(Reject)
	require.True(t, ok)
	assert.Equal(t, "a|b", string(msg))
}

func TestPoll_CarriesPartialLine(t *testing.T) {
	port := NewMockPort()
	ch := New(port)

	port.Feed([]byte("imu|be"))
	require.NoError(t, ch.Poll())
	assert.Empty(t, ch.PendingCategories())

	port.Feed([]byte("gin\nimu|e"))
	require.NoError(t, ch.Poll())
	msg, ok := ch.Read(IMU)
	require.True(t, ok)
	assert.Equal(t, Begin, string(msg))

	port.Feed([]byte("nd\n"))
	require.NoError(t, ch.Poll())
	msg, ok = ch.Read(IMU)
	require.True(t, ok)
	assert.Equal(t, Terminate, string(msg))
}

func TestPoll_ReadsLargeBursts(t *testing.T) {
	port := NewMockPort()
	ch := New(port)

	for i := range 200 {
		port.Feed(fmt.Appendf(nil, "imu|%d\n", i))
	}
	require.NoError(t, ch.Poll())
	assert.Len(t, ch.ReadAll(IMU), 200)
}

func TestPoll_ReadError(t *testing.T) {
	port := NewMockPort()
	port.Feed([]byte("cfm|\n"))
	ch := New(port)
	require.NoError(t, ch.Poll())

	port.ReadError = errors.New("framing error")
	assert.Error(t, ch.Poll())
	assert.True(t, ch.IsPending(Confirm))
}

func TestQueue_FIFO(t *testing.T) {
	t.Parallel()
	port := NewMockPort()
	ch := New(port)

	var want []string
	for i := range 50 {
		p := fmt.Sprintf("payload-%02d", i)
		want = append(want, p)
		port.Feed([]byte("blt|" + p + "\n"))
		if i%7 == 0 {
			require.NoError(t, ch.Poll())
		}
	}
	require.NoError(t, ch.Poll())

	var got []string
	for range want {
		msg, ok := ch.Read(Bluetooth)
		require.True(t, ok)
		got = append(got, string(msg))
	}
	assert.Equal(t, want, got)
	assert.False(t, ch.IsPending(Bluetooth))
}

func TestReadAll_EmptyReturnsNil(t *testing.T) {
	ch := New(NewMockPort())
	assert.Nil(t, ch.ReadAll(Boot))
}

func TestDiscardAll(t *testing.T) {
	port := NewMockPort()
	ch := New(port)
	port.Feed([]byte("boot|\nboot|\nimu|addr\n"))
	require.NoError(t, ch.Poll())

	ch.DiscardAll(Boot)
	assert.False(t, ch.IsPending(Boot))
	assert.True(t, ch.IsPending(IMU))
	_, ok := ch.Read(Boot)
	assert.False(t, ok)
}

func TestBlockingRead_WaitsForData(t *testing.T) {
	a, b := Pipe()
	sender := New(a)
	receiver := New(b, WithPollInterval(5*time.Millisecond), WithWaitInterval(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go receiver.Run(ctx)

	go func() {
		time.Sleep(20 * time.Millisecond)
		sender.SendString(Confirm, Bulk)
	}()

	msg, err := receiver.BlockingRead(ctx, Confirm)
	require.NoError(t, err)
	assert.Equal(t, Bulk, string(msg))
}

func TestBlockingRead_ContextCancel(t *testing.T) {
	ch := New(NewMockPort(), WithWaitInterval(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := ch.BlockingRead(ctx, Confirm)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForRejectOrConfirm_RejectWins(t *testing.T) {
	port := NewMockPort()
	ch := New(port)
	port.Feed([]byte("cfm|fine\nrjt|bad address\n"))
	require.NoError(t, ch.Poll())

	ok, msg, err := ch.WaitForRejectOrConfirm(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "bad address", string(msg))

	ok, msg, err = ch.WaitForRejectOrConfirm(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "fine", string(msg))
}

func TestRun_StopsWhenPortCloses(t *testing.T) {
	port := NewMockPort()
	ch := New(port, WithPollInterval(time.Millisecond))
	require.NoError(t, ch.Close())

	err := ch.Run(context.Background())
	assert.ErrorIs(t, err, ErrPortClosed)
}

func TestConcurrentReaders(t *testing.T) {
	port := NewMockPort()
	ch := New(port)
	const n = 500
	for i := range n {
		port.Feed(fmt.Appendf(nil, "imu|%d\n", i))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]int)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 20 {
			ch.Poll()
		}
	}()
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deadline := time.Now().Add(time.Second)
			for time.Now().Before(deadline) {
				msg, ok := ch.Read(IMU)
				if !ok {
					mu.Lock()
					done := len(seen) == n
					mu.Unlock()
					if done {
						return
					}
					continue
				}
				mu.Lock()
				seen[string(msg)]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for k, v := range seen {
		assert.Equal(t, 1, v, k)
	}
}

func TestPortOptions_Normalize(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, 115200, opts.BaudRate)
	assert.Equal(t, 8, opts.DataBits)
	assert.Equal(t, 1, opts.StopBits)
	assert.Equal(t, "N", opts.Parity)
	assert.Equal(t, DefaultReadTimeout, opts.ReadTimeout)

	_, err = PortOptions{DataBits: 9}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{StopBits: 3}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{Parity: "mark"}.Normalize()
	assert.Error(t, err)

	opts, err = PortOptions{Parity: "even", StopBits: 2}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "E", opts.Parity)

	mode, err := opts.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 115200, mode.BaudRate)
}
