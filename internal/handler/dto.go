package handler

import (
	"time"

	"github.com/hitoshi/virtucalls/internal/model"
)

// accountResponse はアカウント設定のAPIレスポンス。
type accountResponse struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Subdomain       string    `json:"subdomain"`
	BillingCurrency string    `json:"billingCurrency"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func toAccountResponse(a *model.AccountSettings) accountResponse {
	return accountResponse{
		ID:              a.ID,
		UserID:          a.UserID,
		Name:            a.Name,
		Email:           a.Email,
		Subdomain:       a.Subdomain,
		BillingCurrency: a.BillingCurrency,
		UpdatedAt:       a.UpdatedAt,
	}
}

// roomResponse はルーム設定のAPIレスポンス。
type roomResponse struct {
	Title              string `json:"title"`
	WelcomeMessage     string `json:"welcomeMessage"`
	LogoURL            string `json:"logoUrl"`
	BackgroundType     string `json:"backgroundType"`
	BackgroundColor    string `json:"backgroundColor"`
	BackgroundImageURL string `json:"backgroundImageUrl"`
	PrimaryColor       string `json:"primaryColor"`
	Theme              string `json:"theme"`
	Layout             string `json:"layout"`
	Watermark          bool   `json:"watermark"`
}

func toRoomResponse(r *model.RoomSettings) roomResponse {
	return roomResponse{
		Title:              r.Title,
		WelcomeMessage:     r.WelcomeMessage,
		LogoURL:            r.LogoURL,
		BackgroundType:     string(r.BackgroundType),
		BackgroundColor:    r.BackgroundColor,
		BackgroundImageURL: r.BackgroundImageURL,
		PrimaryColor:       r.PrimaryColor,
		Theme:              string(r.Theme),
		Layout:             string(r.Layout),
		Watermark:          r.Watermark,
	}
}

// roomUpdateRequest はルーム設定更新リクエストのボディ。省略したフィールドは変更しない。
type roomUpdateRequest struct {
	Title              *string `json:"title"`
	WelcomeMessage     *string `json:"welcomeMessage"`
	LogoURL            *string `json:"logoUrl"`
	BackgroundType     *string `json:"backgroundType"`
	BackgroundColor    *string `json:"backgroundColor"`
	BackgroundImageURL *string `json:"backgroundImageUrl"`
	PrimaryColor       *string `json:"primaryColor"`
	Theme              *string `json:"theme"`
	Layout             *string `json:"layout"`
	Watermark          *bool   `json:"watermark"`
}

func (req roomUpdateRequest) toPatch() model.RoomSettingsPatch {
	patch := model.RoomSettingsPatch{
		Title:              req.Title,
		WelcomeMessage:     req.WelcomeMessage,
		LogoURL:            req.LogoURL,
		BackgroundColor:    req.BackgroundColor,
		BackgroundImageURL: req.BackgroundImageURL,
		PrimaryColor:       req.PrimaryColor,
		Watermark:          req.Watermark,
	}
	if req.BackgroundType != nil {
		v := model.BackgroundType(*req.BackgroundType)
		patch.BackgroundType = &v
	}
	if req.Theme != nil {
		v := model.RoomTheme(*req.Theme)
		patch.Theme = &v
	}
	if req.Layout != nil {
		v := model.RoomLayout(*req.Layout)
		patch.Layout = &v
	}
	return patch
}

// publicRoomResponse はサブドメインで公開されるルームのレスポンス。
type publicRoomResponse struct {
	Subdomain string       `json:"subdomain"`
	OwnerName string       `json:"ownerName"`
	Settings  roomResponse `json:"settings"`
}

// planResponse は料金プランのAPIレスポンス。
type planResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Price     float64  `json:"price"`
	Currency  string   `json:"currency"`
	Interval  string   `json:"interval"`
	Features  []string `json:"features"`
	IsPopular bool     `json:"isPopular"`
}

func toPlanResponse(p *model.PricingPlan) planResponse {
	features := p.Features
	if features == nil {
		features = []string{}
	}
	return planResponse{
		ID:        p.ID,
		Name:      p.Name,
		Price:     p.Price,
		Currency:  p.Currency,
		Interval:  p.Interval,
		Features:  features,
		IsPopular: p.IsPopular,
	}
}

func toPlanResponses(plans []model.PricingPlan) []planResponse {
	results := make([]planResponse, len(plans))
	for i := range plans {
		results[i] = toPlanResponse(&plans[i])
	}
	return results
}

// subscriptionResponse は契約情報のAPIレスポンス。
type subscriptionResponse struct {
	ID            string    `json:"id"`
	PlanID        string    `json:"planId"`
	PlanName      string    `json:"planName"`
	Status        string    `json:"status"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	StartDate     time.Time `json:"startDate"`
	EndDate       time.Time `json:"endDate"`
	AutoRenew     bool      `json:"autoRenew"`
	PaymentMethod string    `json:"paymentMethod"`
}

func toSubscriptionResponse(s *model.Subscription) *subscriptionResponse {
	if s == nil {
		return nil
	}
	return &subscriptionResponse{
		ID:            s.ID,
		PlanID:        s.PlanID,
		PlanName:      s.PlanName,
		Status:        string(s.Status),
		Amount:        s.Amount,
		Currency:      s.Currency,
		StartDate:     s.StartDate,
		EndDate:       s.EndDate,
		AutoRenew:     s.AutoRenew,
		PaymentMethod: s.PaymentMethod,
	}
}

// transactionResponse は決済履歴のAPIレスポンス。
type transactionResponse struct {
	ID             string    `json:"id"`
	SubscriptionID string    `json:"subscriptionId,omitempty"`
	Amount         float64   `json:"amount"`
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	PaymentMethod  string    `json:"paymentMethod"`
	Description    string    `json:"description"`
	CreatedAt      time.Time `json:"createdAt"`
}

func toTransactionResponse(t *model.Transaction) transactionResponse {
	return transactionResponse{
		ID:             t.ID,
		SubscriptionID: t.SubscriptionID,
		Amount:         t.Amount,
		Currency:       t.Currency,
		Status:         string(t.Status),
		PaymentMethod:  t.PaymentMethod,
		Description:    t.Description,
		CreatedAt:      t.CreatedAt,
	}
}

// sessionResponse は現在のセッション状態のレスポンス。
type sessionResponse struct {
	User            *model.User `json:"user"`
	IsAuthenticated bool        `json:"isAuthenticated"`
	IsLoading       bool        `json:"isLoading"`
}

// viewUser は画面表示用にアクセストークンを除いたユーザーを返す。
func viewUser(u *model.User) *model.User {
	c := u.Clone()
	if c != nil {
		c.Token = ""
	}
	return c
}
