//go:build windows

// ABOUTME: WASAPI process-loopback capture via pure-syscall COM
// ABOUTME: Activates the virtual loopback device for one PID and pumps raw buffers
package capture

import (
	"fmt"
	"log"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"

	"github.com/Parlor-Chat/jamstream-go/internal/audio"
)

// comGUID is a COM GUID (128-bit).
type comGUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

// comCall invokes a COM vtable method at the given index.
// obj is a pointer to a COM interface (pointer to pointer to vtable).
func comCall(obj uintptr, vtableIdx int, args ...uintptr) (uintptr, error) {
	vtablePtr := *(*uintptr)(unsafe.Pointer(obj))
	fnPtr := *(*uintptr)(unsafe.Pointer(vtablePtr + uintptr(vtableIdx)*unsafe.Sizeof(uintptr(0))))
	allArgs := make([]uintptr, 0, 1+len(args))
	allArgs = append(allArgs, obj)
	allArgs = append(allArgs, args...)
	ret, _, _ := syscall.SyscallN(fnPtr, allArgs...)
	if int32(ret) < 0 {
		return ret, fmt.Errorf("COM vtable[%d] HRESULT 0x%08X", vtableIdx, uint32(ret))
	}
	return ret, nil
}

// comRelease calls IUnknown::Release (vtable index 2).
func comRelease(obj uintptr) {
	if obj != 0 {
		vtablePtr := *(*uintptr)(unsafe.Pointer(obj))
		fnPtr := *(*uintptr)(unsafe.Pointer(vtablePtr + 2*unsafe.Sizeof(uintptr(0))))
		syscall.SyscallN(fnPtr, obj)
	}
}

var (
	ole32DLL    = syscall.NewLazyDLL("ole32.dll")
	mmdevapiDLL = syscall.NewLazyDLL("mmdevapi.dll")

	procCoInitializeEx = ole32DLL.NewProc("CoInitializeEx")
	procCoUninitialize = ole32DLL.NewProc("CoUninitialize")
	procCoTaskMemFree  = ole32DLL.NewProc("CoTaskMemFree")

	procActivateAudioInterfaceAsync = mmdevapiDLL.NewProc("ActivateAudioInterfaceAsync")
)

const (
	coinitMultithreaded = 0x0

	// AUDIOCLIENT_ACTIVATION_PARAMS
	activationTypeProcessLoopback = 1
	loopbackModeIncludeTree       = 0

	virtualLoopbackDevicePath = `VAD\Process_Loopback`

	// PROPVARIANT variant type
	vtBlob = 65

	// IAudioClient::Initialize
	shareModeShared          = 0
	streamFlagsLoopback      = 0x00020000
	streamFlagsEventCallback = 0x00040000
	bufferDurationHNS        = 2_000_000 // 200ms in 100ns units

	// IAudioCaptureClient::GetBuffer
	bufferFlagsSilent = 0x2
	sBufferEmpty      = 0x08890001 // AUDCLNT_S_BUFFER_EMPTY

	hrOK         = 0
	eNoInterface = 0x80004002
)

// --- GUIDs ---

var (
	iidIUnknown           = comGUID{0x00000000, 0x0000, 0x0000, [8]byte{0xC0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x46}}
	iidIAudioClient       = comGUID{0x1CB9AD4C, 0xDBFA, 0x4C32, [8]byte{0xB1, 0x78, 0xC2, 0xF5, 0x68, 0xA7, 0x03, 0xB2}}
	iidIAudioCaptureClient = comGUID{0xC8ADBD64, 0xE71E, 0x48A0, [8]byte{0xA4, 0xDE, 0x18, 0x5C, 0x39, 0x5C, 0xD3, 0x17}}
	iidCompletionHandler  = comGUID{0x41D949AB, 0x9862, 0x444A, [8]byte{0x80, 0xF6, 0xC2, 0x61, 0x33, 0x4D, 0xA5, 0xEB}}
	iidIAgileObject       = comGUID{0x94EA2B94, 0xE9CC, 0x49E0, [8]byte{0xC0, 0xFF, 0xEE, 0x64, 0xCA, 0x8F, 0x5B, 0x90}}
)

// --- vtable index constants ---
//
// Fixed by the COM ABI and must be exact.
// IUnknown: 0=QueryInterface, 1=AddRef, 2=Release

const (
	// IAudioClient
	vtblInitialize     = 3
	vtblGetBufferSize  = 4
	vtblGetMixFormat   = 8
	vtblAudioStart     = 10
	vtblAudioStop      = 11
	vtblSetEventHandle = 13
	vtblGetService     = 14

	// IAudioCaptureClient
	vtblGetBuffer     = 3
	vtblReleaseBuffer = 4

	// IActivateAudioInterfaceAsyncOperation
	vtblGetActivateResult = 3
)

// audioClientActivationParams matches AUDIOCLIENT_ACTIVATION_PARAMS for
// process loopback.
type audioClientActivationParams struct {
	ActivationType      uint32
	TargetProcessID     uint32
	ProcessLoopbackMode uint32
}

// propVariant matches the 64-bit PROPVARIANT layout used for the VT_BLOB
// activation parameter (cbSize at offset 8, pBlobData at offset 16).
type propVariant struct {
	Vt       uint16
	_        [6]byte
	BlobSize uint32
	_        uint32
	BlobPtr  uintptr
}

// --- activation completion handler ---
//
// A minimal COM server implementing IActivateAudioInterfaceCompletionHandler.
// The vtable and its callbacks are created once at package init; NewCallback
// slots are a process-wide finite resource.

type completionHandlerVtbl struct {
	QueryInterface    uintptr
	AddRef            uintptr
	Release           uintptr
	ActivateCompleted uintptr
}

type activateCompletionHandler struct {
	vtbl *completionHandlerVtbl
	sig  chan struct{}
	// params is the activation blob the OS may read while the activation is
	// in flight; pinning it here ties its lifetime to the handler's.
	params *audioClientActivationParams
}

// liveHandlers keeps every in-flight handler reachable until its callback
// fires. The OS holds the `this` pointer across an async activation, and can
// invoke ActivateCompleted after our timeout has abandoned the wait; the
// registry guarantees that late completion lands on live memory. A handler
// whose activation never completes stays registered, a small deliberate leak.
var (
	handlerMu    sync.Mutex
	liveHandlers = make(map[uintptr]*activateCompletionHandler)
)

func retainHandler(h *activateCompletionHandler) uintptr {
	this := uintptr(unsafe.Pointer(h))
	handlerMu.Lock()
	liveHandlers[this] = h
	handlerMu.Unlock()
	return this
}

func releaseHandler(this uintptr) *activateCompletionHandler {
	handlerMu.Lock()
	h := liveHandlers[this]
	delete(liveHandlers, this)
	handlerMu.Unlock()
	return h
}

var handlerVtbl = completionHandlerVtbl{
	QueryInterface: syscall.NewCallback(func(this uintptr, riid *comGUID, ppv *uintptr) uintptr {
		if *riid == iidIUnknown || *riid == iidCompletionHandler || *riid == iidIAgileObject {
			*ppv = this
			return hrOK
		}
		*ppv = 0
		return eNoInterface
	}),
	// Lifetime is managed by liveHandlers, so COM refcounting is a no-op.
	AddRef:  syscall.NewCallback(func(this uintptr) uintptr { return 1 }),
	Release: syscall.NewCallback(func(this uintptr) uintptr { return 1 }),
	ActivateCompleted: syscall.NewCallback(func(this uintptr, op uintptr) uintptr {
		if h := releaseHandler(this); h != nil {
			close(h.sig)
		}
		return hrOK
	}),
}

func newCompletionHandler(params *audioClientActivationParams) *activateCompletionHandler {
	return &activateCompletionHandler{vtbl: &handlerVtbl, sig: make(chan struct{}), params: params}
}

// platformSupportsProcessLoopback checks the OS build against the first
// release carrying the process-loopback activation path.
func platformSupportsProcessLoopback() error {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, `SOFTWARE\Microsoft\Windows NT\CurrentVersion`, registry.QUERY_VALUE)
	if err != nil {
		return fmt.Errorf("%w: reading OS version: %v", ErrUnsupported, err)
	}
	defer k.Close()

	s, _, err := k.GetStringValue("CurrentBuildNumber")
	if err != nil {
		return fmt.Errorf("%w: reading OS build: %v", ErrUnsupported, err)
	}
	build, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("%w: parsing OS build %q: %v", ErrUnsupported, s, err)
	}
	if build < MinWindowsBuild {
		return fmt.Errorf("%w: Windows build %d, need %d or later", ErrUnsupported, build, MinWindowsBuild)
	}
	return nil
}

func startCapture(e *Engine, pid uint32) (*Handle, error) {
	h := newHandle(e.chunkBuffer())
	ready := make(chan error, 1)

	go captureThread(h, pid, ready)

	if err := <-ready; err != nil {
		<-h.done
		return nil, err
	}
	return h, nil
}

// captureThread runs the whole WASAPI session on one locked OS thread:
// COM init, activation, the event-driven read loop, and teardown.
func captureThread(h *Handle, pid uint32, ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(h.done)
	defer close(h.chunks)

	hr, _, _ := procCoInitializeEx.Call(0, coinitMultithreaded)
	if int32(hr) < 0 {
		ready <- fmt.Errorf("%w: CoInitializeEx HRESULT 0x%08X", ErrActivationFailed, uint32(hr))
		return
	}
	defer procCoUninitialize.Call()

	client, format, err := activateProcessLoopback(pid)
	if err != nil {
		ready <- err
		return
	}
	defer comRelease(client)

	event, err := windows.CreateEvent(nil, 0, 0, nil)
	if err != nil {
		ready <- fmt.Errorf("%w: creating capture event: %v", ErrActivationFailed, err)
		return
	}
	defer windows.CloseHandle(event)

	if _, err := comCall(client, vtblSetEventHandle, uintptr(event)); err != nil {
		ready <- fmt.Errorf("%w: SetEventHandle: %v", ErrActivationFailed, err)
		return
	}

	var captureClient uintptr
	if _, err := comCall(client, vtblGetService,
		uintptr(unsafe.Pointer(&iidIAudioCaptureClient)),
		uintptr(unsafe.Pointer(&captureClient))); err != nil {
		ready <- fmt.Errorf("%w: GetService(IAudioCaptureClient): %v", ErrActivationFailed, err)
		return
	}
	defer comRelease(captureClient)

	if _, err := comCall(client, vtblAudioStart); err != nil {
		ready <- fmt.Errorf("%w: starting stream: %v", ErrActivationFailed, err)
		return
	}
	defer comCall(client, vtblAudioStop)

	log.Printf("Capture started for PID %d: %dHz %dch %d-bit float=%v",
		pid, format.SampleRate, format.Channels, format.BitsPerSample, format.Float)
	ready <- nil

	readLoop(h, captureClient, event, format)
}

// readLoop pumps the capture client until Stop. The event wait is bounded so
// the stop signal is observed within eventWaitMillis even if the stream
// goes quiet.
func readLoop(h *Handle, captureClient uintptr, event windows.Handle, format audio.Format) {
	blockAlign := format.Channels * format.BitsPerSample / 8
	for {
		select {
		case <-h.stop:
			return
		default:
		}

		windows.WaitForSingleObject(event, eventWaitMillis)

		for {
			var (
				data      *byte
				numFrames uint32
				flags     uint32
			)
			hr, err := comCall(captureClient, vtblGetBuffer,
				uintptr(unsafe.Pointer(&data)),
				uintptr(unsafe.Pointer(&numFrames)),
				uintptr(unsafe.Pointer(&flags)), 0, 0)
			if err != nil {
				log.Printf("Capture GetBuffer failed, stopping: %v", err)
				return
			}
			if hr == sBufferEmpty || numFrames == 0 {
				break
			}

			if flags&bufferFlagsSilent == 0 {
				n := int(numFrames) * blockAlign
				buf := make([]byte, n)
				copy(buf, unsafe.Slice(data, n))
				chunk := audio.RawChunk{Data: buf, Frames: int(numFrames), Format: format}

				// Blocking send keeps every captured buffer; backpressure
				// is absorbed downstream, and stop still wins.
				select {
				case h.chunks <- chunk:
				case <-h.stop:
					comCall(captureClient, vtblReleaseBuffer, uintptr(numFrames))
					return
				}
			}

			if _, err := comCall(captureClient, vtblReleaseBuffer, uintptr(numFrames)); err != nil {
				log.Printf("Capture ReleaseBuffer failed, stopping: %v", err)
				return
			}
		}
	}
}

// activateProcessLoopback runs the asynchronous activation dance against the
// virtual loopback device and returns an initialized IAudioClient plus the
// stream format it was initialized with.
func activateProcessLoopback(pid uint32) (uintptr, audio.Format, error) {
	params := &audioClientActivationParams{
		ActivationType:      activationTypeProcessLoopback,
		TargetProcessID:     pid,
		ProcessLoopbackMode: loopbackModeIncludeTree,
	}
	pv := propVariant{
		Vt:       vtBlob,
		BlobSize: uint32(unsafe.Sizeof(*params)),
		BlobPtr:  uintptr(unsafe.Pointer(params)),
	}

	devicePath, err := windows.UTF16PtrFromString(virtualLoopbackDevicePath)
	if err != nil {
		return 0, audio.Format{}, fmt.Errorf("%w: %v", ErrActivationFailed, err)
	}

	handler := newCompletionHandler(params)
	this := retainHandler(handler)
	var op uintptr
	hr, _, _ := procActivateAudioInterfaceAsync.Call(
		uintptr(unsafe.Pointer(devicePath)),
		uintptr(unsafe.Pointer(&iidIAudioClient)),
		uintptr(unsafe.Pointer(&pv)),
		this,
		uintptr(unsafe.Pointer(&op)))
	if int32(hr) < 0 {
		releaseHandler(this)
		return 0, audio.Format{}, fmt.Errorf("%w: ActivateAudioInterfaceAsync HRESULT 0x%08X", ErrActivationFailed, uint32(hr))
	}
	defer comRelease(op)

	select {
	case <-handler.sig:
	case <-time.After(activationTimeoutSecs * time.Second):
		// The handler stays in liveHandlers; a completion arriving after
		// this point still lands on live memory and unregisters itself.
		return 0, audio.Format{}, ErrActivationTimeout
	}

	var (
		hrActivate uint32
		client     uintptr
	)
	if _, err := comCall(op, vtblGetActivateResult,
		uintptr(unsafe.Pointer(&hrActivate)),
		uintptr(unsafe.Pointer(&client))); err != nil {
		return 0, audio.Format{}, fmt.Errorf("%w: GetActivateResult: %v", ErrActivationFailed, err)
	}
	if int32(hrActivate) < 0 {
		return 0, audio.Format{}, fmt.Errorf("%w: activation HRESULT 0x%08X", ErrActivationFailed, hrActivate)
	}

	format, wfx, ownWfx := mixFormat(client)
	defer func() {
		if ownWfx {
			procCoTaskMemFree.Call(uintptr(unsafe.Pointer(wfx)))
		}
	}()

	if _, err := comCall(client, vtblInitialize,
		shareModeShared,
		streamFlagsLoopback|streamFlagsEventCallback,
		bufferDurationHNS, 0,
		uintptr(unsafe.Pointer(wfx)), 0); err != nil {
		comRelease(client)
		return 0, audio.Format{}, fmt.Errorf("%w: Initialize: %v", ErrActivationFailed, err)
	}
	return client, format, nil
}

// waveFormatEx mirrors WAVEFORMATEX field-for-field. Field offsets match the
// packed C layout; only the total size differs (Go pads to 20). Extensible
// payloads past CbSize are read through parseWaveFormat instead.
type waveFormatEx struct {
	FormatTag      uint16
	Channels       uint16
	SamplesPerSec  uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
	CbSize         uint16
}

// mixFormat asks the engine for its mix format; if that fails it falls back
// to 48kHz stereo 32-bit float, which shared-mode WASAPI accepts in
// practice. ownWfx reports whether the returned pointer is CoTaskMem that
// the caller must free.
func mixFormat(client uintptr) (audio.Format, *waveFormatEx, bool) {
	var wfx *waveFormatEx
	if _, err := comCall(client, vtblGetMixFormat, uintptr(unsafe.Pointer(&wfx))); err != nil || wfx == nil {
		log.Printf("GetMixFormat failed (%v), assuming 48kHz stereo float", err)
		fallback := &waveFormatEx{
			FormatTag:      waveFormatIEEEFloat,
			Channels:       audio.TargetChannels,
			SamplesPerSec:  audio.TargetRate,
			AvgBytesPerSec: audio.TargetRate * audio.TargetChannels * 4,
			BlockAlign:     audio.TargetChannels * 4,
			BitsPerSample:  32,
		}
		return audio.Format{
			SampleRate:    audio.TargetRate,
			Channels:      audio.TargetChannels,
			BitsPerSample: 32,
			Float:         true,
		}, fallback, false
	}

	// Reinterpret through the packed C layout; unsafe.Sizeof(*wfx) is 20
	// on 64-bit Go while the wire struct is 18 bytes, so offsets must come
	// from the ABI, not the Go struct.
	raw := unsafe.Slice((*byte)(unsafe.Pointer(wfx)), waveFormatExSize+int(wfx.CbSize))
	return parseWaveFormat(raw), wfx, true
}
