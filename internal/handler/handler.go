package handler

import (
	"errors"
	"strconv"

	"tokenledger/internal/ledger"
	"tokenledger/internal/service"
	"tokenledger/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	tokenService *service.TokenService
}

func NewHandler(tokenService *service.TokenService) *Handler {
	return &Handler{tokenService: tokenService}
}

// GetInfo 查询代币信息
// GET /api/v1/token
func (h *Handler) GetInfo(c *gin.Context) {
	response.Success(c, h.tokenService.Info())
}

// GetTotalSupply 查询总供应量
// GET /api/v1/token/total-supply
func (h *Handler) GetTotalSupply(c *gin.Context) {
	response.Success(c, gin.H{"total_supply": h.tokenService.TotalSupply()})
}

// GetOwner 查询代币所有者
// GET /api/v1/token/owner
func (h *Handler) GetOwner(c *gin.Context) {
	response.Success(c, gin.H{"owner": h.tokenService.Owner()})
}

// GetBalance 查询余额
// GET /api/v1/token/balance?account=0x...
func (h *Handler) GetBalance(c *gin.Context) {
	account := c.Query("account")
	if account == "" {
		response.ParamError(c, "account 参数不能为空")
		return
	}

	bal, err := h.tokenService.Balance(account)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, bal)
}

// Transfer 转账，转出方取自 X-Account 请求头
// POST /api/v1/token/transfer
func (h *Handler) Transfer(c *gin.Context) {
	var req service.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	event, err := h.tokenService.Transfer(c.Request.Context(), caller(c), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, event)
}

// ListEvents 查询转账事件
// GET /api/v1/token/events?since=0&limit=100
func (h *Handler) ListEvents(c *gin.Context) {
	since, err := strconv.ParseUint(c.DefaultQuery("since", "0"), 10, 64)
	if err != nil {
		response.ParamError(c, "since 参数错误")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(service.DefaultEventLimit)))
	if err != nil {
		response.ParamError(c, "limit 参数错误")
		return
	}

	events, err := h.tokenService.Events(c.Request.Context(), since, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, events)
}

// ListTransfers 查询账户转账记录
// GET /api/v1/token/transfers?account=0x...&page=1&page_size=10
func (h *Handler) ListTransfers(c *gin.Context) {
	account := c.Query("account")
	if account == "" {
		response.ParamError(c, "account 参数不能为空")
		return
	}
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		response.ParamError(c, "page 参数错误")
		return
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if err != nil {
		response.ParamError(c, "page_size 参数错误")
		return
	}
	page, pageSize = service.NormalizePage(page, pageSize)

	list, total, err := h.tokenService.History(c.Request.Context(), account, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, response.PageData{
		List:     list,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

// GetTransfer 按序号查询转账
// GET /api/v1/token/transfers/:seq
func (h *Handler) GetTransfer(c *gin.Context) {
	seq, err := strconv.ParseUint(c.Param("seq"), 10, 64)
	if err != nil {
		response.ParamError(c, "seq 参数错误")
		return
	}

	event, err := h.tokenService.GetTransfer(c.Request.Context(), seq)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, event)
}

func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, ledger.ErrInvalidArgument):
		response.ParamError(c, err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance):
		response.BusinessError(c, response.CodeBalanceNotEnough, err.Error())
	case errors.Is(err, service.ErrNotWriter):
		response.BusinessError(c, response.CodeNotWriter, err.Error())
	case errors.Is(err, service.ErrTransferNotFound):
		response.NotFound(c, err.Error())
	default:
		response.ServerError(c, "服务器内部错误")
	}
}
