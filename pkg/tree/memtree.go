// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tree

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quilldav/quill/pkg/dav/davxml"
	"github.com/quilldav/quill/pkg/util"
)

// NewMemTree returns a new in-memory Tree implementation. quotaBytes caps
// the reported quota; 0 disables quota reporting.
//
// All metadata and file data are stored in memory. No limits on tree size
// are enforced, so it is not recommended this be used where the clients
// are untrusted.
//
// Concurrent access is permitted. The tree structure is protected by a
// mutex, and each node's contents and metadata are protected by a
// per-node mutex.
func NewMemTree(quotaBytes int64) Tree {
	return &memTree{
		quota: quotaBytes,
		root: memNode{
			children: make(map[string]*memNode),
			modTime:  time.Now(),
		},
	}
}

type memTree struct {
	mu    sync.Mutex
	quota int64
	root  memNode
}

// walk walks the tree for the fullname, calling f at each step. dir is the
// collection at that step, frag is the name fragment, and final is whether
// it is the final step.
func (t *memTree) walk(fullname string, f func(dir *memNode, frag string, final bool) error) error {
	fullname = util.SlashClean(fullname)
	if fullname[0] == '/' {
		fullname = fullname[1:]
	}
	dir := &t.root

	for {
		frag, remaining := fullname, ""
		i := strings.IndexRune(fullname, '/')
		final := i < 0
		if !final {
			frag, remaining = fullname[:i], fullname[i+1:]
		}
		if err := f(dir, frag, final); err != nil {
			return err
		}
		if final {
			break
		}
		child := dir.children[frag]
		if child == nil {
			return ErrNotFound
		}
		if child.children == nil {
			return ErrNotCollection
		}
		dir, fullname = child, remaining
	}
	return nil
}

// find returns the parent of the named node and the relative name fragment
// from the parent to the child. If the fullname names the root node, then
// parent and frag are zero.
func (t *memTree) find(fullname string) (parent *memNode, frag string, err error) {
	err = t.walk(fullname, func(parent0 *memNode, frag0 string, final bool) error {
		if !final {
			return nil
		}
		if frag0 != "" {
			parent, frag = parent0, frag0
		}
		return nil
	})
	return parent, frag, err
}

func (t *memTree) Exists(p string) bool {
	_, err := t.Get(p)
	return err == nil
}

func (t *memTree) Get(p string) (Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	dir, frag, err := t.find(p)
	if err != nil {
		return nil, err
	}
	if dir == nil {
		return t.root.view(t, "/"), nil
	}
	n, ok := dir.children[frag]
	if !ok {
		return nil, ErrNotFound
	}
	return n.view(t, path.Base(p)), nil
}

func (t *memTree) Delete(p string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	dir, frag, err := t.find(p)
	if err != nil {
		return err
	}
	if dir == nil {
		// We can't remove the root.
		return ErrNotCollection
	}
	if _, ok := dir.children[frag]; !ok {
		return ErrNotFound
	}
	delete(dir.children, frag)
	return nil
}

func (t *memTree) Move(src, dst string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	src, dst = util.SlashClean(src), util.SlashClean(dst)
	if src == dst {
		return nil
	}
	if strings.HasPrefix(dst, src+"/") {
		// We can't move src to be a descendant of itself.
		return ErrNotCollection
	}

	sDir, sFrag, err := t.find(src)
	if err != nil {
		return err
	}
	dDir, dFrag, err := t.find(dst)
	if err != nil {
		return err
	}
	if sDir == nil || dDir == nil {
		return ErrNotCollection
	}

	n, ok := sDir.children[sFrag]
	if !ok {
		return ErrNotFound
	}
	delete(sDir.children, sFrag)
	dDir.children[dFrag] = n
	return nil
}

func (t *memTree) Copy(src, dst string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	src, dst = util.SlashClean(src), util.SlashClean(dst)
	if strings.HasPrefix(dst, src+"/") {
		return ErrNotCollection
	}

	sDir, sFrag, err := t.find(src)
	if err != nil {
		return err
	}
	dDir, dFrag, err := t.find(dst)
	if err != nil {
		return err
	}
	if sDir == nil || dDir == nil {
		return ErrNotCollection
	}

	n, ok := sDir.children[sFrag]
	if !ok {
		return ErrNotFound
	}
	dDir.children[dFrag] = n.clone()
	return nil
}

func (t *memTree) CreateFile(p string, body io.Reader) (string, bool, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	dir, frag, err := t.find(p)
	if err != nil {
		return "", false, err
	}
	if dir == nil {
		return "", false, ErrExists
	}
	if _, ok := dir.children[frag]; ok {
		return "", false, ErrExists
	}
	n := &memNode{data: data, modTime: time.Now()}
	dir.children[frag] = n
	return n.etag(), true, nil
}

func (t *memTree) UpdateFile(p string, body io.Reader) (string, bool, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	dir, frag, err := t.find(p)
	if err != nil {
		return "", false, err
	}
	if dir == nil {
		return "", false, ErrNotCollection
	}
	n, ok := dir.children[frag]
	if !ok {
		return "", false, ErrNotFound
	}
	n.mu.Lock()
	n.data = data
	n.modTime = time.Now()
	n.mu.Unlock()
	return n.etag(), true, nil
}

var collectionType = xml.Name{Space: "DAV:", Local: "collection"}

func (t *memTree) CreateCollection(p string, resourceType []xml.Name, props []davxml.Property) (map[xml.Name]int, error) {
	// Only plain collections are supported; any extra resource type is
	// rejected per property.
	for _, rt := range resourceType {
		if rt != collectionType {
			return map[xml.Name]int{
				{Space: "DAV:", Local: "resourcetype"}: http.StatusForbidden,
			}, nil
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	dir, frag, err := t.find(p)
	if err != nil {
		return nil, err
	}
	if dir == nil {
		return nil, ErrExists
	}
	if _, ok := dir.children[frag]; ok {
		return nil, ErrExists
	}
	n := &memNode{
		children: make(map[string]*memNode),
		modTime:  time.Now(),
	}
	for _, prop := range props {
		if n.deadProps == nil {
			n.deadProps = make(map[xml.Name]davxml.Property)
		}
		n.deadProps[prop.XMLName] = prop
	}
	dir.children[frag] = n
	return nil, nil
}

// usedBytes sums file sizes below the root. Caller holds t.mu.
func (t *memTree) usedBytes(n *memNode) int64 {
	if n.children == nil {
		return int64(len(n.data))
	}
	var sum int64
	for _, c := range n.children {
		sum += t.usedBytes(c)
	}
	return sum
}

// A memNode represents a single entry in the in-memory tree. A nil
// children map marks a file node.
type memNode struct {
	// children is protected by memTree.mu.
	children map[string]*memNode

	mu        sync.Mutex
	data      []byte
	modTime   time.Time
	deadProps map[xml.Name]davxml.Property
}

func (n *memNode) clone() *memNode {
	n.mu.Lock()
	defer n.mu.Unlock()

	c := &memNode{
		data:    append([]byte(nil), n.data...),
		modTime: n.modTime,
	}
	if n.deadProps != nil {
		c.deadProps = make(map[xml.Name]davxml.Property, len(n.deadProps))
		for k, v := range n.deadProps {
			c.deadProps[k] = v
		}
	}
	if n.children != nil {
		c.children = make(map[string]*memNode, len(n.children))
		for name, child := range n.children {
			c.children[name] = child.clone()
		}
	}
	return c
}

func (n *memNode) etag() string {
	// The ETag is the concatenated hex values of the node's modification
	// time and size, as in golang.org/x/net/webdav.
	return fmt.Sprintf(`"%x%x"`, n.modTime.UnixNano(), len(n.data))
}

// view wraps a node with its name snapshot so it can satisfy the
// capability interfaces.
func (n *memNode) view(t *memTree, name string) Node {
	if n.children != nil {
		return &memCollection{memView{t: t, n: n, name: name}}
	}
	return &memFile{memView{t: t, n: n, name: name}}
}

type memView struct {
	t    *memTree
	n    *memNode
	name string
}

func (v memView) Name() string { return v.name }

func (v memView) ModTime() time.Time {
	v.n.mu.Lock()
	defer v.n.mu.Unlock()
	return v.n.modTime
}

func (v memView) GetProperties(names []xml.Name) (map[xml.Name]davxml.Property, error) {
	v.n.mu.Lock()
	defer v.n.mu.Unlock()

	res := make(map[xml.Name]davxml.Property)
	if names == nil {
		for k, p := range v.n.deadProps {
			res[k] = p
		}
		return res, nil
	}
	for _, name := range names {
		if p, ok := v.n.deadProps[name]; ok {
			res[name] = p
		}
	}
	return res, nil
}

func (v memView) ApplyPropertyPatch(patch *PropPatch) error {
	v.n.mu.Lock()
	defer v.n.mu.Unlock()

	for _, m := range patch.Remaining() {
		for _, p := range m.Props {
			if m.Remove {
				delete(v.n.deadProps, p.XMLName)
			} else {
				if v.n.deadProps == nil {
					v.n.deadProps = make(map[xml.Name]davxml.Property)
				}
				v.n.deadProps[p.XMLName] = p
			}
			patch.SetResult(p.XMLName, http.StatusOK)
		}
	}
	return nil
}

type memFile struct {
	memView
}

func (f *memFile) Open() (io.ReadCloser, error) {
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	// The returned reader is seekable so multi-range reads can rewind.
	return seekNopCloser{bytes.NewReader(f.n.data)}, nil
}

type seekNopCloser struct {
	*bytes.Reader
}

func (seekNopCloser) Close() error { return nil }

func (f *memFile) Size() int64 {
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	return int64(len(f.n.data))
}

func (f *memFile) ContentType() string {
	if ctype := mime.TypeByExtension(path.Ext(f.name)); ctype != "" {
		return ctype
	}
	return "application/octet-stream"
}

func (f *memFile) ETag() string {
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	return f.n.etag()
}

type memCollection struct {
	memView
}

func (c *memCollection) Children() []string {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()

	names := make([]string, 0, len(c.n.children))
	for name := range c.n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *memCollection) QuotaInfo() (int64, int64, error) {
	if c.t.quota <= 0 {
		return 0, 0, ErrNotFound
	}

	c.t.mu.Lock()
	defer c.t.mu.Unlock()

	used := c.t.usedBytes(c.n)
	avail := c.t.quota - used
	if avail < 0 {
		avail = 0
	}
	return used, avail, nil
}
