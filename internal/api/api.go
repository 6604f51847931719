package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"livepoll/internal/chat"
	"livepoll/internal/domain"
	"livepoll/internal/errors"
	"livepoll/internal/event"
	"livepoll/internal/hub"
	"livepoll/internal/ledger"
	"livepoll/internal/poll"
	"livepoll/internal/roster"
)

type Config struct {
	Engine   *gin.Engine
	EventBus *event.Bus

	Hub    *hub.Hub
	Polls  *poll.Service
	Ledger *ledger.Service
	Chat   *chat.Service
	Roster *roster.Service

	Redis        Redis
	PubsubPrefix string

	// VoteRate/VoteBurst bound vote submissions per client; defaults allow
	// 10 votes per minute with a burst of 3.
	VoteRate  rate.Limit
	VoteBurst int
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	hub    *hub.Hub
	polls  *poll.Service
	votes  *ledger.Service
	chat   *chat.Service
	roster *roster.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		hub:    c.Hub,
		polls:  c.Polls,
		votes:  c.Ledger,
		chat:   c.Chat,
		roster: c.Roster,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	voteRate := c.VoteRate
	if voteRate == 0 {
		voteRate = rate.Every(time.Minute / 10)
	}
	voteBurst := c.VoteBurst
	if voteBurst == 0 {
		voteBurst = 3
	}

	e := c.Engine
	e.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := e.Group("/api/v1")
	{
		v1.POST("/polls", a.createPoll)
		v1.GET("/polls", a.listPolls)
		v1.GET("/polls/active", a.getActivePoll)
		v1.GET("/polls/:id/results", a.getPollResults)
		v1.POST("/polls/end", a.endPoll)

		v1.POST("/votes", rateLimit(voteRate, voteBurst), a.submitVote)
		v1.GET("/votes/status", a.voteStatus)

		v1.GET("/state", a.getState)
		v1.GET("/events", a.streamEvents)

		v1.POST("/chat", a.postChatMessage)
		v1.GET("/chat", a.listChatMessages)

		v1.POST("/participants", a.registerParticipant)
		v1.GET("/participants", a.listParticipants)
		v1.DELETE("/participants/:id", a.kickParticipant)
	}

	a.subscribePublisher(c.EventBus)

	return a
}

type createPollRequest struct {
	Question        string   `json:"question"`
	Options         []string `json:"options"`
	DurationSeconds int      `json:"timerDuration"`
}

func (a *API) createPoll(c *gin.Context) {
	var req createPollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request body"), errors.WithCause(err)))
		return
	}

	if !a.polls.CanCreateNew() {
		abortWithError(c, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("cannot create a new poll while the previous one is still active"),
		))
		return
	}

	p, err := a.hub.CreatePoll(c.Request.Context(), poll.CreateRequest{
		Question:        req.Question,
		Options:         req.Options,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, p)
}

func (a *API) listPolls(c *gin.Context) {
	polls, err := a.polls.List(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}

	out := make([]domain.PollResult, 0, len(polls))
	for _, p := range polls {
		p := p
		res, err := a.votes.Tally(c.Request.Context(), &p)
		if err != nil {
			abortWithError(c, err)
			return
		}
		out = append(out, *res)
	}

	c.JSON(http.StatusOK, out)
}

func (a *API) getActivePoll(c *gin.Context) {
	p, err := a.polls.GetActive(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	if p == nil {
		abortWithError(c, errors.New(errors.CodeNotFound, errors.WithMessagef("no active poll")))
		return
	}

	remaining, err := a.polls.RemainingSeconds(c.Request.Context(), p.ID)
	if err != nil {
		remaining = 0
	}

	c.JSON(http.StatusOK, gin.H{
		"poll":          p,
		"remainingTime": remaining,
	})
}

func (a *API) getPollResults(c *gin.Context) {
	p, err := a.polls.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	res, err := a.votes.Tally(c.Request.Context(), p)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (a *API) endPoll(c *gin.Context) {
	p, err := a.hub.EndPoll(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, p)
}

type submitVoteRequest struct {
	PollID        string `json:"pollId"`
	ParticipantID string `json:"participantId"`
	OptionIndex   *int   `json:"optionIndex"`
}

func (a *API) submitVote(c *gin.Context) {
	var req submitVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request body"), errors.WithCause(err)))
		return
	}
	if req.PollID == "" || req.ParticipantID == "" || req.OptionIndex == nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("pollId, participantId and optionIndex are required"),
		))
		return
	}

	err := a.hub.SubmitVote(c.Request.Context(), hub.SubmitVoteRequest{
		PollID:        req.PollID,
		ParticipantID: req.ParticipantID,
		OptionIndex:   *req.OptionIndex,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *API) voteStatus(c *gin.Context) {
	pollID := c.Query("pollId")
	participantID := c.Query("participantId")
	if pollID == "" || participantID == "" {
		abortWithError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("pollId and participantId are required"),
		))
		return
	}

	voted, err := a.votes.HasVoted(c.Request.Context(), pollID, participantID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"hasVoted": voted})
}

func (a *API) getState(c *gin.Context) {
	state, err := a.hub.State(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

// streamEvents delivers the observer fan-out as server-sent events. The
// first event is always the current state snapshot.
func (a *API) streamEvents(c *gin.Context) {
	participantID := c.Query("participantId")
	if participantID == "" {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("participantId is required")))
		return
	}

	ch, err := a.hub.Subscribe(c.Request.Context(), participantID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	// On reconnect the hub hands the id to a new channel; this handler's
	// teardown must only tear down its own subscription, never the
	// replacement's.
	defer func() {
		if a.hub.Unsubscribe(participantID, ch) {
			a.roster.Disconnect(context.WithoutCancel(c.Request.Context()), participantID)
		}
	}()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case n, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(n.Event, n.Data)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

type chatRequest struct {
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Message    string `json:"message"`
}

func (a *API) postChatMessage(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request body"), errors.WithCause(err)))
		return
	}

	m, err := a.chat.Post(c.Request.Context(), chat.PostRequest{
		SenderID:   req.SenderID,
		SenderName: req.SenderName,
		Message:    req.Message,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, m)
}

func (a *API) listChatMessages(c *gin.Context) {
	c.JSON(http.StatusOK, a.chat.History())
}

type registerParticipantRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (a *API) registerParticipant(c *gin.Context) {
	var req registerParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request body"), errors.WithCause(err)))
		return
	}

	p, err := a.roster.Register(c.Request.Context(), req.ID, req.Name)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, p)
}

func (a *API) listParticipants(c *gin.Context) {
	c.JSON(http.StatusOK, a.roster.List())
}

func (a *API) kickParticipant(c *gin.Context) {
	if err := a.roster.Kick(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func abortWithError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{
		"code":    e.Code,
		"message": e.Message,
	})
}
