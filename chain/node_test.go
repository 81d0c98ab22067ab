package chain

import (
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/saiset-co/sai-chainsync/logger"
	"github.com/saiset-co/sai-chainsync/types"
	"github.com/saiset-co/sai-chainsync/utils"
)

type nodeRequest struct {
	ID     uint64        `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// nodeReply is what a fake node answers. A non-zero Status short-circuits with a bare HTTP status.
type nodeReply struct {
	Status int
	Raw    string
	Result interface{}
	Error  *rpcError
}

type nodeHandler func(host string, req nodeRequest) nodeReply

type fakeNode struct {
	mu      sync.Mutex
	calls   map[string]int
	methods []string
	handler nodeHandler
	ln      *fasthttputil.InmemoryListener
}

func newFakeNode(t *testing.T, handler nodeHandler) *fakeNode {
	t.Helper()

	node := &fakeNode{
		calls:   make(map[string]int),
		handler: handler,
		ln:      fasthttputil.NewInmemoryListener(),
	}

	server := &fasthttp.Server{Handler: node.serve}
	go func() {
		_ = server.Serve(node.ln)
	}()

	t.Cleanup(func() {
		_ = node.ln.Close()
	})

	return node
}

func (n *fakeNode) dial(string) (net.Conn, error) {
	return n.ln.Dial()
}

func (n *fakeNode) serve(ctx *fasthttp.RequestCtx) {
	var req nodeRequest
	if err := utils.Unmarshal(ctx.PostBody(), &req); err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}

	host := string(ctx.Host())

	n.mu.Lock()
	n.calls[host]++
	n.methods = append(n.methods, req.Method)
	n.mu.Unlock()

	reply := n.handler(host, req)

	if reply.Status != 0 {
		ctx.SetStatusCode(reply.Status)
		return
	}

	ctx.SetContentType("application/json")
	if reply.Raw != "" {
		ctx.SetBodyString(reply.Raw)
		return
	}

	body := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if reply.Error != nil {
		body["error"] = reply.Error
	} else {
		body["result"] = reply.Result
	}

	data, _ := utils.Marshal(body)
	ctx.SetBody(data)
}

func (n *fakeNode) Calls(host string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[host]
}

func (n *fakeNode) Total() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.methods)
}

func (n *fakeNode) client(t *testing.T, config *types.ChainConfig) *Client {
	t.Helper()

	if config == nil {
		config = &types.ChainConfig{RPCURLs: []string{"http://node-a/"}}
	}

	c, err := NewClient(logger.NewNop(), config, WithDial(n.dial))
	require.NoError(t, err)
	return c
}

// callData returns the hex calldata of an eth_call request.
func callData(req nodeRequest) string {
	if len(req.Params) == 0 {
		return ""
	}
	call, ok := req.Params[0].(map[string]interface{})
	if !ok {
		return ""
	}
	data, _ := call["data"].(string)
	return strings.ToLower(data)
}

func words(values ...string) string {
	var b strings.Builder
	b.WriteString("0x")
	for _, v := range values {
		b.WriteString(strings.Repeat("0", 64-len(v)))
		b.WriteString(v)
	}
	return b.String()
}
