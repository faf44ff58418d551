package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/kit/endpoint"

	rags "github.com/intelliswarm-ai/intelliswarm-rags"
)

func statusCode(err error) int {
	switch {
	case errors.Is(err, rags.ErrEmptyQuestion),
		errors.Is(err, rags.ErrInvalidFilename):
		return http.StatusBadRequest

	case errors.Is(err, rags.ErrEmbeddingUnavailable),
		errors.Is(err, rags.ErrGenerationUnavailable):
		return http.StatusServiceUnavailable

	default:
		return http.StatusExpectationFailed
	}
}

func UploadHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		fh, err := c.FormFile("file")
		if err != nil {
			c.String(http.StatusBadRequest, err.Error())
			c.Error(err)
			c.Abort()
			return
		}

		f, err := fh.Open()
		if err != nil {
			c.String(http.StatusBadRequest, err.Error())
			c.Error(err)
			c.Abort()
			return
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			c.String(http.StatusBadRequest, err.Error())
			c.Error(err)
			c.Abort()
			return
		}

		req := rags.IngestRequest{
			Filename: fh.Filename,
			Data:     data,
		}

		ctx := c.Request.Context()
		resp, err := endpoint(ctx, req)
		if err != nil {
			c.String(statusCode(err), err.Error())
			c.Error(err)
			c.Abort()
			return
		}

		result, ok := resp.(rags.IngestResponse)
		if !ok {
			err := errors.New("invalid response type")
			c.String(http.StatusInternalServerError, err.Error())
			c.Error(err)
			c.Abort()
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "uploaded",
			"details": result.Status,
			"result":  result,
		})
	}
}

func SearchHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req rags.RetrieveRequest
		if err := c.ShouldBindQuery(&req); err != nil {
			c.String(http.StatusBadRequest, err.Error())
			c.Error(err)
			c.Abort()
			return
		}

		ctx := c.Request.Context()
		resp, err := endpoint(ctx, req)
		if err != nil {
			c.String(statusCode(err), err.Error())
			c.Error(err)
			c.Abort()
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

// bindAskRequest accepts JSON, or a multipart form with a question field and
// an optional image file.
func bindAskRequest(c *gin.Context) (rags.AskRequest, error) {
	var req rags.AskRequest

	if c.ContentType() != gin.MIMEMultipartPOSTForm {
		err := c.ShouldBindJSON(&req)
		return req, err
	}

	req.Question = c.PostForm("question")

	fh, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return req, nil
		}

		return req, err
	}

	f, err := fh.Open()
	if err != nil {
		return req, err
	}
	defer f.Close()

	req.Image, err = io.ReadAll(f)
	return req, err
}

// AskHandler streams answer fragments as plain text, flushing each one.
func AskHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := bindAskRequest(c)
		if err != nil {
			c.String(http.StatusBadRequest, err.Error())
			c.Error(err)
			c.Abort()
			return
		}

		ctx := c.Request.Context()
		resp, err := endpoint(ctx, req)
		if err != nil {
			c.String(statusCode(err), err.Error())
			c.Error(err)
			c.Abort()
			return
		}

		stream, ok := resp.(rags.Stream)
		if !ok {
			err := errors.New("invalid response type")
			c.String(http.StatusInternalServerError, err.Error())
			c.Error(err)
			c.Abort()
			return
		}
		defer stream.Close()

		// the status is decided by the first fragment
		first, err := stream.Recv()
		if err != nil && !errors.Is(err, io.EOF) {
			c.String(statusCode(err), err.Error())
			c.Error(err)
			c.Abort()
			return
		}

		c.Header("Content-Type", "text/plain; charset=utf-8")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Status(http.StatusOK)

		if err != nil {
			return
		}

		pending := true

		c.Stream(func(w io.Writer) bool {
			fragment := first
			if pending {
				pending = false
			} else {
				fragment, err = stream.Recv()
				if err != nil {
					if !errors.Is(err, io.EOF) {
						c.Error(err)
					}

					return false
				}
			}

			if _, err := io.WriteString(w, fragment); err != nil {
				c.Error(err)
				return false
			}

			return true
		})
	}
}
