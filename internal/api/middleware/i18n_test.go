package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	. "github.com/smartystreets/goconvey/convey"
)

func TestTranslator(t *testing.T) {
	Convey("Given the embedded locales", t, func() {
		tr, err := NewTranslator("en")
		So(err, ShouldBeNil)
		So(tr.Supports("de"), ShouldBeTrue)

		Convey("The summary uses plural forms", func() {
			data := map[string]interface{}{"Total": 3, "Recognized": 2}
			So(tr.Localize("en", "RecognizeSummary", data, 3), ShouldEqual, "3 faces detected, 2 recognized")
			data["Total"] = 1
			So(tr.Localize("de", "RecognizeSummary", data, 1), ShouldEqual, "1 Gesicht erkannt, 2 zugeordnet")
		})

		Convey("Unknown IDs are returned as is", func() {
			So(tr.Localize("en", "Nope", nil, nil), ShouldEqual, "Nope")
		})
	})
}

func TestI18nMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	Convey("Given a router with sessions and i18n", t, func() {
		tr, err := NewTranslator("en")
		So(err, ShouldBeNil)

		r := gin.New()
		r.Use(sessions.Sessions("test", cookie.NewStore([]byte("secret"))))
		r.Use(I18n(tr))
		r.GET("/", func(c *gin.Context) {
			c.String(http.StatusOK, T(c, "ErrStudentNotFound", nil, nil))
		})

		get := func(url, acceptLang string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodGet, url, nil)
			if acceptLang != "" {
				req.Header.Set("Accept-Language", acceptLang)
			}
			for _, ck := range cookies {
				req.AddCookie(ck)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			return w
		}

		Convey("The default language applies without hints", func() {
			So(get("/", "").Body.String(), ShouldEqual, "Student not found")
		})

		Convey("Accept-Language is honoured", func() {
			So(get("/", "de-DE,de;q=0.9").Body.String(), ShouldEqual, "Schüler nicht gefunden")
		})

		Convey("?lang is remembered in the session", func() {
			w := get("/?lang=de", "")
			So(w.Body.String(), ShouldEqual, "Schüler nicht gefunden")
			cookies := w.Result().Cookies()
			So(cookies, ShouldNotBeEmpty)
			So(get("/", "", cookies...).Body.String(), ShouldEqual, "Schüler nicht gefunden")
		})
	})
}
