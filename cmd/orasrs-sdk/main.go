// Command orasrs-sdk builds the core as a C shared library:
//
//	go build -buildmode=c-shared -o liborasrs.so ./cmd/orasrs-sdk
//
// Every export checks its pointers and text before use. NULL or invalid
// UTF-8 input makes the call return false (or 0) without touching state.
package main

/*
#include <stdbool.h>
#include <stddef.h>
#include <stdint.h>
*/
import "C"

import (
	"math"
	"unicode/utf8"
	"unsafe"

	"github.com/orasrs/orasrs-core/internal/boundary"
	"github.com/orasrs/orasrs-core/internal/logging"
)

func init() {
	boundary.SetLogger(logging.New())
}

func goString(p *C.char) (string, bool) {
	if p == nil {
		return "", false
	}
	s := C.GoString(p)
	if !utf8.ValidString(s) {
		return "", false
	}
	return s, true
}

// outBuf views the caller's buffer of declared size maxLen.
func outBuf(p *C.char, maxLen C.size_t) ([]byte, int) {
	if p == nil || maxLen == 0 {
		return nil, 0
	}
	n := uint64(maxLen)
	if n > math.MaxInt32 {
		n = math.MaxInt32
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), int(n)), int(n)
}

//export orasrs_init
func orasrs_init(rpcURL, contractAddr *C.char) C.bool {
	// NULL or garbage falls back to the default endpoint
	rpc, _ := goString(rpcURL)
	contract, _ := goString(contractAddr)
	return C.bool(boundary.Init(rpc, contract))
}

//export orasrs_check_ip
func orasrs_check_ip(ip *C.char) C.bool {
	s, ok := goString(ip)
	if !ok {
		return false
	}
	return C.bool(boundary.CheckIP(s))
}

//export orasrs_check_domain
func orasrs_check_domain(domain *C.char) C.bool {
	s, ok := goString(domain)
	if !ok {
		return false
	}
	return C.bool(boundary.CheckDomain(s))
}

//export orasrs_update_threats
func orasrs_update_threats() C.bool {
	return C.bool(boundary.ForceRefresh())
}

//export orasrs_update_nodes
func orasrs_update_nodes() C.bool {
	return C.bool(boundary.RefreshNodes())
}

//export orasrs_get_status
func orasrs_get_status(out *C.char, maxLen C.size_t) C.bool {
	buf, n := outBuf(out, maxLen)
	if buf == nil {
		return false
	}
	return C.bool(boundary.GetStatus(buf, n))
}

//export orasrs_get_node_count
func orasrs_get_node_count() C.uint32_t {
	return C.uint32_t(boundary.GetNodeCount())
}

//export orasrs_get_node_info
func orasrs_get_node_info(index C.uint32_t, out *C.char, maxLen C.size_t) C.bool {
	buf, n := outBuf(out, maxLen)
	if buf == nil {
		return false
	}
	return C.bool(boundary.GetNodeInfo(int(index), buf, n))
}

//export orasrs_connect_to_node
func orasrs_connect_to_node(ip *C.char, port C.uint16_t) C.bool {
	s, ok := goString(ip)
	if !ok {
		return false
	}
	return C.bool(boundary.ConnectToNode(s, uint16(port)))
}

//export orasrs_connect_to_all_nodes
func orasrs_connect_to_all_nodes() C.uint32_t {
	return C.uint32_t(boundary.ConnectToAllNodes())
}

//export orasrs_send_p2p_message
func orasrs_send_p2p_message(ip *C.char, port C.uint16_t, message *C.char) C.bool {
	s, ok := goString(ip)
	if !ok {
		return false
	}
	msg, ok := goString(message)
	if !ok {
		return false
	}
	return C.bool(boundary.SendMessage(s, uint16(port), []byte(msg)))
}

//export orasrs_kernel_block_enable
func orasrs_kernel_block_enable() {
	boundary.EnableKernelBlock()
}

//export orasrs_kernel_block_disable
func orasrs_kernel_block_disable() {
	boundary.DisableKernelBlock()
}

//export orasrs_block_ip
func orasrs_block_ip(ip *C.char) C.bool {
	s, ok := goString(ip)
	if !ok {
		return false
	}
	return C.bool(boundary.AddIP(s))
}

//export orasrs_block_domain
func orasrs_block_domain(domain *C.char, level C.uint8_t) C.bool {
	s, ok := goString(domain)
	if !ok {
		return false
	}
	return C.bool(boundary.AddDomain(s, uint8(level)))
}

//export orasrs_shutdown
func orasrs_shutdown() {
	boundary.Shutdown()
}

func main() {}
