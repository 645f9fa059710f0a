package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/tetratelabs/wazero/api"

	"github.com/clawinfra/skillclaw/internal/policy"
	"github.com/clawinfra/skillclaw/internal/skill"
)

// hostState carries the per-invocation capability context into host
// functions. It travels on the context because the host module is shared
// by every instantiation.
type hostState struct {
	policy   *skill.CapabilityPolicy
	instance string
	client   *http.Client
	logger   *slog.Logger
}

type hostStateKey struct{}

func withHostState(ctx context.Context, st *hostState) context.Context {
	return context.WithValue(ctx, hostStateKey{}, st)
}

func stateFrom(ctx context.Context) *hostState {
	st, _ := ctx.Value(hostStateKey{}).(*hostState)
	return st
}

// instantiateHost registers the skillhost module. These imports are the
// only way a component can reach the outside world, and every one of
// them checks the invocation's capability policy. A denied capability
// and an absent one produce the same failure, so the component cannot
// probe policy internals.
func (w *Wasm) instantiateHost(ctx context.Context) {
	builder := w.rt.NewHostModuleBuilder("skillhost")

	builder.NewFunctionBuilder().
		WithFunc(hostLog).
		Export("log")
	builder.NewFunctionBuilder().
		WithFunc(hostHTTPGet).
		Export("http_get")
	builder.NewFunctionBuilder().
		WithFunc(hostReadFile).
		Export("read_file")
	builder.NewFunctionBuilder().
		WithFunc(hostWriteFile).
		Export("write_file")

	if _, err := builder.Instantiate(ctx); err != nil {
		// Registration happens once at startup with static definitions;
		// failure here is a programming error.
		panic(fmt.Sprintf("instantiate skillhost module: %v", err))
	}
}

// hostLog lets the component emit a log line through the host logger.
func hostLog(ctx context.Context, m api.Module, ptr, size uint32) {
	st := stateFrom(ctx)
	if st == nil {
		return
	}
	msg, ok := m.Memory().Read(ptr, size)
	if !ok {
		return
	}
	st.logger.Info("component log", "instance", st.instance, "message", string(msg))
}

// hostHTTPGet performs an outbound GET when the policy grants the host.
func hostHTTPGet(ctx context.Context, m api.Module, ptr, size uint32) uint64 {
	st := stateFrom(ctx)
	raw, ok := m.Memory().Read(ptr, size)
	if st == nil || !ok {
		return hostErr(ctx, m, "capability not granted")
	}
	url := string(raw)
	if err := policy.CheckURL(url, st.policy); err != nil {
		return hostErr(ctx, m, "capability not granted")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return hostErr(ctx, m, "request failed")
	}
	resp, err := st.client.Do(req)
	if err != nil {
		return hostErr(ctx, m, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return hostErr(ctx, m, "request failed")
	}
	return hostOK(ctx, m, string(body))
}

// hostReadFile reads a file inside the policy's readable roots.
func hostReadFile(ctx context.Context, m api.Module, ptr, size uint32) uint64 {
	st := stateFrom(ctx)
	raw, ok := m.Memory().Read(ptr, size)
	if st == nil || !ok {
		return hostErr(ctx, m, "capability not granted")
	}
	path := string(raw)
	if err := policy.CheckPath(path, false, st.policy); err != nil {
		return hostErr(ctx, m, "capability not granted")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return hostErr(ctx, m, "read failed")
	}
	return hostOK(ctx, m, string(data))
}

// hostWriteFile writes a file inside the policy's writable roots.
func hostWriteFile(ctx context.Context, m api.Module, pathPtr, pathSize, dataPtr, dataSize uint32) uint64 {
	st := stateFrom(ctx)
	rawPath, okP := m.Memory().Read(pathPtr, pathSize)
	data, okD := m.Memory().Read(dataPtr, dataSize)
	if st == nil || !okP || !okD {
		return hostErr(ctx, m, "capability not granted")
	}
	path := string(rawPath)
	if err := policy.CheckPath(path, true, st.policy); err != nil {
		return hostErr(ctx, m, "capability not granted")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return hostErr(ctx, m, "write failed")
	}
	return hostOK(ctx, m, "")
}

// hostOK and hostErr hand a {"ok":...}/{"err":...} envelope back to the
// guest as a packed (ptr << 32 | len) string.
func hostOK(ctx context.Context, m api.Module, value string) uint64 {
	return packEnvelope(ctx, m, map[string]string{"ok": value})
}

func hostErr(ctx context.Context, m api.Module, msg string) uint64 {
	return packEnvelope(ctx, m, map[string]string{"err": msg})
}

func packEnvelope(ctx context.Context, m api.Module, envelope map[string]string) uint64 {
	raw, err := json.Marshal(envelope)
	if err != nil {
		return 0
	}
	ptr, size, err := writeGuestBytes(ctx, m, raw)
	if err != nil {
		return 0
	}
	return uint64(ptr)<<32 | uint64(size)
}

// writeGuestString copies s into guest memory via the component's alloc
// export and returns its (ptr, len).
func writeGuestString(ctx context.Context, m api.Module, s string) (uint32, uint32, error) {
	return writeGuestBytes(ctx, m, []byte(s))
}

func writeGuestBytes(ctx context.Context, m api.Module, data []byte) (uint32, uint32, error) {
	alloc := m.ExportedFunction("alloc")
	if alloc == nil {
		return 0, 0, fmt.Errorf("component does not export alloc")
	}
	ret, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, 0, fmt.Errorf("guest alloc: %w", err)
	}
	ptr := uint32(ret[0])
	if len(data) > 0 && !m.Memory().Write(ptr, data) {
		return 0, 0, fmt.Errorf("guest memory write out of range")
	}
	return ptr, uint32(len(data)), nil
}

// readGuestString unpacks a (ptr << 32 | len) return value.
func readGuestString(m api.Module, packed uint64) (string, error) {
	ptr := uint32(packed >> 32)
	size := uint32(packed)
	if size == 0 {
		return "", nil
	}
	data, ok := m.Memory().Read(ptr, size)
	if !ok {
		return "", fmt.Errorf("guest memory read out of range")
	}
	return string(data), nil
}
