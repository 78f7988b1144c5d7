package dav

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/quilldav/quill/pkg/cache"
	"github.com/quilldav/quill/pkg/dav/davxml"
	"github.com/quilldav/quill/pkg/events"
	"github.com/quilldav/quill/pkg/serializer"
	"github.com/quilldav/quill/pkg/tree"
	"github.com/quilldav/quill/pkg/util"
)

const (
	syncCounterPrefix = "sync_ctr_"
	syncStatePrefix   = "sync_state_"
)

var syncCollectionName = xml.Name{Space: "DAV:", Local: "sync-collection"}

// SyncExtension implements a reduced sync-collection REPORT in the
// spirit of RFC 6578. Any change below a collection bumps its change
// counter; a report carrying a stale or absent token gets the full
// membership plus the current token, a current token gets an empty
// change set.
type SyncExtension struct {
	tree  tree.Tree
	store cache.Driver
}

// NewSyncExtension builds the extension and subscribes it to the
// lifecycle bus. The afterMove handler migrates per-path state and must
// therefore observe the move before the source unbind cleanup runs.
func NewSyncExtension(t tree.Tree, store cache.Driver, bus *events.Bus) *SyncExtension {
	ext := &SyncExtension{tree: t, store: store}
	bus.Subscribe(events.AfterBind, ext.onChange, 10)
	bus.Subscribe(events.AfterUnbind, ext.onRemove, 10)
	bus.Subscribe(events.AfterCopy, ext.onCopy, 10)
	bus.Subscribe(events.AfterMove, ext.onMove, 10)
	return ext
}

func (ext *SyncExtension) Features() []string {
	return []string{"sync-collection"}
}

func (ext *SyncExtension) Reports() []xml.Name {
	return []xml.Name{syncCollectionName}
}

func (ext *SyncExtension) onChange(args ...any) bool {
	if p, ok := args[0].(string); ok {
		ext.bump(p)
	}
	return true
}

func (ext *SyncExtension) onRemove(args ...any) bool {
	if p, ok := args[0].(string); ok {
		ext.store.Delete(syncStatePrefix, p)
		ext.bump(p)
	}
	return true
}

func (ext *SyncExtension) onCopy(args ...any) bool {
	if len(args) > 1 {
		if dst, ok := args[1].(string); ok {
			ext.bump(dst)
		}
	}
	return true
}

func (ext *SyncExtension) onMove(args ...any) bool {
	if len(args) < 2 {
		return true
	}
	src, okSrc := args[0].(string)
	dst, okDst := args[1].(string)
	if !okSrc || !okDst {
		return true
	}
	// Migrate the issued-token state to the destination path. This runs
	// before the source afterUnbind cleanup deletes it.
	if v, ok := ext.store.Get(syncStatePrefix + src); ok {
		ext.store.Set(syncStatePrefix+dst, v, 0)
		ext.store.Delete(syncStatePrefix, src)
	}
	ext.bump(src)
	ext.bump(dst)
	return true
}

// bump increments the change counter of every collection above p.
func (ext *SyncExtension) bump(p string) {
	for dir := util.ParentPath(p); ; dir = util.ParentPath(dir) {
		key := syncCounterPrefix + dir
		ctr := int64(0)
		if v, ok := ext.store.Get(key); ok {
			if n, ok := v.(int64); ok {
				ctr = n
			}
		}
		ext.store.Set(key, ctr+1, 0)
		if dir == "/" {
			break
		}
	}
}

// token formats the current sync token of a collection as a link, the
// form the ctag resolution unwraps.
func (ext *SyncExtension) token(p string) string {
	ctr := int64(0)
	if v, ok := ext.store.Get(syncCounterPrefix + p); ok {
		if n, ok := v.(int64); ok {
			ctr = n
		}
	}
	return syncTokenLinkPrefix + strconv.FormatInt(ctr, 10)
}

// FindProperty answers the sync-token spellings for collections from
// the live change counters, so PROPFIND and the ctag derivation see the
// same token a sync-collection REPORT would issue.
func (ext *SyncExtension) FindProperty(p string, node tree.Node, name xml.Name) (davxml.Property, bool) {
	if name != syncTokenName && name != quillSyncTokenName {
		return davxml.Property{}, false
	}
	if _, ok := node.(tree.Collection); !ok {
		return davxml.Property{}, false
	}
	return davxml.Property{XMLName: name, InnerXML: []byte(davxml.Escape(ext.token(p)))}, true
}

type syncCollectionReport struct {
	XMLName   xml.Name `xml:"DAV: sync-collection"`
	SyncToken string   `xml:"sync-token"`
}

func (ext *SyncExtension) HandleReport(c *gin.Context, reqPath string, root xml.Name, body io.Reader) (int, error) {
	var report syncCollectionReport
	if err := xml.NewDecoder(body).Decode(&report); err != nil && err != io.EOF {
		return http.StatusBadRequest, serializer.NewBadRequest("invalid sync-collection body", err)
	}

	node, err := ext.tree.Get(reqPath)
	if err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			return http.StatusNotFound, err
		}
		return http.StatusInternalServerError, err
	}
	col, ok := node.(tree.Collection)
	if !ok {
		return http.StatusConflict, tree.ErrNotCollection
	}

	token := ext.token(reqPath)
	var resps []*davxml.Response
	if report.SyncToken == "" || report.SyncToken != token {
		// Stale or initial token, report the full membership.
		for _, name := range col.Children() {
			childPath := path.Join(reqPath, name)
			child, err := ext.tree.Get(childPath)
			if err != nil {
				continue
			}
			pstat := davxml.Propstat{Status: davxml.StatusLine(http.StatusOK)}
			if f, ok := child.(tree.File); ok {
				pstat.Prop = append(pstat.Prop,
					davxml.Property{
						XMLName:  xml.Name{Space: "DAV:", Local: "getetag"},
						InnerXML: []byte(davxml.Escape(f.ETag())),
					},
					davxml.Property{XMLName: resourceTypeName})
			} else {
				pstat.Prop = append(pstat.Prop, davxml.Property{
					XMLName:  resourceTypeName,
					InnerXML: []byte(`<D:collection xmlns:D="DAV:"/>`),
				})
			}
			resps = append(resps, makePropstatResponse(path.Join(c.Request.URL.Path, name), []davxml.Propstat{pstat}))
		}
	}
	ext.store.Set(syncStatePrefix+reqPath, token, 0)

	return ext.writeMultistatus(c, resps, token)
}

// writeMultistatus emits a multistatus body carrying the sync-token
// element RFC 6578 appends after the responses.
func (ext *SyncExtension) writeMultistatus(c *gin.Context, resps []*davxml.Response, token string) (int, error) {
	w := c.Writer
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(davxml.StatusMulti)
	if _, err := fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>`+"\n"+`<D:multistatus xmlns:D="DAV:">`); err != nil {
		return 0, err
	}
	enc := xml.NewEncoder(w)
	for _, resp := range resps {
		if err := enc.Encode(resp); err != nil {
			return 0, err
		}
	}
	if err := enc.Flush(); err != nil {
		return 0, err
	}
	_, err := fmt.Fprintf(w, "<D:sync-token>%s</D:sync-token></D:multistatus>", davxml.Escape(token))
	return 0, err
}
