package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sweeney/homer-callflow/internal/calls"
	"github.com/sweeney/homer-callflow/internal/homer"
)

func (s *Server) searchCalls(c *gin.Context) {
	q := calls.Query{
		Filters: homer.Filters{
			CallID:        c.Query("callid"),
			FromUser:      c.Query("from_user"),
			ToUser:        c.Query("to_user"),
			Method:        c.Query("method"),
			SourceIP:      c.Query("src_ip"),
			DestinationIP: c.Query("dst_ip"),
			FromTag:       c.Query("from_tag"),
			ToTag:         c.Query("to_tag"),
		},
	}
	if v := c.Query("hours"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil || h <= 0 {
			badRequest(c, fmt.Errorf("hours must be a positive integer, got %q", v))
			return
		}
		q.Hours = h
	}

	res, err := s.svc.Search(c.Request.Context(), q)
	if err != nil {
		backendError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) callDetail(c *gin.Context) {
	id, ts, ok := callParams(c)
	if !ok {
		return
	}
	d, err := s.svc.Detail(c.Request.Context(), c.Param("callid"), id, ts)
	if err != nil {
		backendError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) exportCall(c *gin.Context) {
	id, ts, ok := callParams(c)
	if !ok {
		return
	}
	body, name, err := s.svc.Export(c.Request.Context(), c.Param("callid"), id, ts)
	if err != nil {
		backendError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Data(http.StatusOK, "application/json", body)
}

// callParams reads the optional id and ts query parameters.
func callParams(c *gin.Context) (id, ts int64, ok bool) {
	for _, p := range []struct {
		name string
		dst  *int64
	}{{"id", &id}, {"ts", &ts}} {
		v := c.Query(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			badRequest(c, fmt.Errorf("%s must be a non-negative integer, got %q", p.name, v))
			return 0, 0, false
		}
		*p.dst = n
	}
	return id, ts, true
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func backendError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}
