package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joshua-takyi/gatherly/internal/helpers"
	"github.com/joshua-takyi/gatherly/internal/models"
	"github.com/joshua-takyi/gatherly/internal/services"
)

func CreateEvent(es *services.EventService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := requireClaims(c)
		if !ok {
			return
		}

		var event models.Event
		if err := c.ShouldBindJSON(&event); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error()))
			return
		}

		created, err := es.CreateEvent(c.Request.Context(), &event, claims.UserID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, models.SuccessResponse(created, "Event created successfully"))
	}
}

func GetEvent(es *services.EventService) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID := helpers.StringTrim(c.Param("id"))
		if eventID == "" {
			c.JSON(http.StatusBadRequest, models.ErrorResponse("event ID is required"))
			return
		}

		view := &models.EventView{
			SessionID: c.GetString("session_id"),
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		}
		if claims, ok := claimsFromContext(c); ok {
			userID := claims.UserID
			view.UserID = &userID
		}

		event, err := es.GetEvent(c.Request.Context(), eventID, view)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, models.SuccessResponse(event, ""))
	}
}

func UpdateEvent(es *services.EventService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := requireClaims(c)
		if !ok {
			return
		}

		eventID := helpers.StringTrim(c.Param("id"))
		var patch services.EventPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error()))
			return
		}

		updated, err := es.UpdateEvent(c.Request.Context(), eventID, claims.UserID, &patch)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, models.SuccessResponse(updated, "Event updated successfully"))
	}
}

func DeleteEvent(es *services.EventService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := requireClaims(c)
		if !ok {
			return
		}

		eventID := helpers.StringTrim(c.Param("id"))
		if err := es.DeleteEvent(c.Request.Context(), eventID, claims.UserID); err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, models.SuccessResponse(nil, "Event deleted successfully"))
	}
}

func RsvpEvent(es *services.EventService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := requireClaims(c)
		if !ok {
			return
		}

		event, err := es.Rsvp(c.Request.Context(), c.Param("id"), claims.UserID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, models.SuccessResponse(event, "RSVP confirmed"))
	}
}

func CancelRsvp(es *services.EventService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := requireClaims(c)
		if !ok {
			return
		}

		event, err := es.CancelRsvp(c.Request.Context(), c.Param("id"), claims.UserID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, models.SuccessResponse(event, "RSVP cancelled"))
	}
}

func parsePagination(c *gin.Context) (int, int, bool) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page <= 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("invalid page parameter"))
		return 0, 0, false
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit <= 0 || limit > 100 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("invalid limit parameter"))
		return 0, 0, false
	}
	return page, limit, true
}

func ListEvents(es *services.EventService) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, limit, ok := parsePagination(c)
		if !ok {
			return
		}

		filter := models.EventFilter{
			Query:     c.Query("q"),
			Category:  c.Query("category"),
			EventType: models.EventType(c.Query("event_type")),
			Location:  c.Query("location"),
			Sort:      models.EventSort(c.DefaultQuery("sort", string(models.SortByDate))),
		}
		if tags := c.Query("tags"); tags != "" {
			filter.Tags = strings.Split(tags, ",")
		}
		if from := c.Query("date_from"); from != "" {
			t, err := time.Parse("2006-01-02", from)
			if err != nil {
				c.JSON(http.StatusBadRequest, models.ErrorResponse("invalid date_from, use YYYY-MM-DD"))
				return
			}
			filter.DateFrom = &t
		}
		if to := c.Query("date_to"); to != "" {
			t, err := time.Parse("2006-01-02", to)
			if err != nil {
				c.JSON(http.StatusBadRequest, models.ErrorResponse("invalid date_to, use YYYY-MM-DD"))
				return
			}
			filter.DateTo = &t
		}

		events, total, err := es.SearchEvents(c.Request.Context(), filter, page, limit)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, models.PaginatedResponse(events, page, limit, total))
	}
}

// ListMyEvents serves the dashboard "created" tab.
func ListMyEvents(es *services.EventService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := requireClaims(c)
		if !ok {
			return
		}
		page, limit, ok := parsePagination(c)
		if !ok {
			return
		}

		events, total, err := es.ListByOwner(c.Request.Context(), claims.UserID, page, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.PaginatedResponse(events, page, limit, total))
	}
}

// ListAttendingEvents serves the dashboard "attending" tab.
func ListAttendingEvents(es *services.EventService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := requireClaims(c)
		if !ok {
			return
		}
		page, limit, ok := parsePagination(c)
		if !ok {
			return
		}

		events, total, err := es.ListAttending(c.Request.Context(), claims.UserID, page, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.PaginatedResponse(events, page, limit, total))
	}
}

func EventViewStats(es *services.EventService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := requireClaims(c)
		if !ok {
			return
		}

		stats, err := es.ViewStats(c.Request.Context(), helpers.StringTrim(c.Param("id")), claims.UserID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(stats, ""))
	}
}
