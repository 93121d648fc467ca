package mail

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/ittrkart-backend/internal/model"
)

var templateFuncs = template.FuncMap{
	"rupees": func(d decimal.Decimal) string {
		return "Rs." + d.StringFixed(2)
	},
}

const orderTableTmpl = `
  <h2 style="color: #555;">[Order {{.Order.ID}}] ({{.Order.CreatedAt.Format "2006-01-02"}})</h2>

  <table style="width: 100%; border-collapse: collapse; margin-bottom: 20px;">
    <thead>
      <tr>
        <th style="border: 1px solid #ddd; padding: 8px; background-color: #f5f5f5;">Product</th>
        <th style="border: 1px solid #ddd; padding: 8px; background-color: #f5f5f5;">Quantity</th>
        <th style="border: 1px solid #ddd; padding: 8px; background-color: #f5f5f5;" align="right">Price</th>
      </tr>
    </thead>
    <tbody>
      {{range .Order.Items}}
      <tr>
        <td style="border: 1px solid #ddd; padding: 8px;">{{.Name}}</td>
        <td style="border: 1px solid #ddd; padding: 8px;" align="center">{{.Quantity}}</td>
        <td style="border: 1px solid #ddd; padding: 8px;" align="right">{{rupees .Price}}</td>
      </tr>
      {{end}}
    </tbody>
    <tfoot>
      <tr>
        <td colspan="2" style="border: 1px solid #ddd; padding: 8px;">Items Price:</td>
        <td style="border: 1px solid #ddd; padding: 8px;" align="right">{{rupees .Order.ItemsPrice}}</td>
      </tr>
      <tr>
        <td colspan="2" style="border: 1px solid #ddd; padding: 8px;">Shipping Price:</td>
        <td style="border: 1px solid #ddd; padding: 8px;" align="right">{{rupees .Order.ShippingPrice}}</td>
      </tr>
      <tr>
        <td colspan="2" style="border: 1px solid #ddd; padding: 8px;"><strong>Total Price:</strong></td>
        <td style="border: 1px solid #ddd; padding: 8px;" align="right"><strong>{{rupees .Order.TotalPrice}}</strong></td>
      </tr>
      <tr>
        <td colspan="2" style="border: 1px solid #ddd; padding: 8px;">Payment Method:</td>
        <td style="border: 1px solid #ddd; padding: 8px;" align="right">{{.Order.PaymentMethod}}</td>
      </tr>
    </tfoot>
  </table>

  <h2 style="color: #555;">Shipping address</h2>
  <p>
    {{.Order.ShippingAddress.FullName}},<br/>
    {{.Order.ShippingAddress.Address}},<br/>
    {{.Order.ShippingAddress.City}},<br/>
    {{.Order.ShippingAddress.Country}},<br/>
    {{.Order.ShippingAddress.PostalCode}}<br/>
  </p>
`

var paidOrderTmpl = template.Must(template.New("paidOrder").Funcs(templateFuncs).Parse(`
  <h1 style="text-align: center; color: #333;">Thanks for shopping with us</h1>
  <p>Hi {{.Name}},</p>
  <p>We have finished processing your order.</p>
` + orderTableTmpl + `
  <hr/>
  <p>Thanks for shopping with us.</p>
`))

var vendorOrderTmpl = template.Must(template.New("vendorOrder").Funcs(templateFuncs).Parse(`
  <h1 style="text-align: center; color: #333;">New Order for Fulfillment</h1>
  <p>Hi {{.Name}},</p>
  <p>You have a new order to fulfill on behalf of IttrKart:</p>
` + orderTableTmpl + `
  <hr/>
  <p>Please process this order for fulfillment as soon as possible.</p>
  <p>Thank you for partnering with IttrKart!</p>
`))

var resetPasswordTmpl = template.Must(template.New("resetPassword").Parse(`<p>Please Click the following link to reset your password:</p>
        <a href="{{.Link}}">Reset Password</a>`))

type orderTemplateData struct {
	Name  string
	Order *model.Order
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// PaidOrderBody формирует письмо владельцу заказа со сводкой оплаченного заказа.
func PaidOrderBody(recipientName string, order *model.Order) (string, error) {
	return render(paidOrderTmpl, orderTemplateData{Name: recipientName, Order: order})
}

// VendorOrderBody формирует письмо продавцу с заказом на исполнение.
func VendorOrderBody(vendorName string, order *model.Order) (string, error) {
	return render(vendorOrderTmpl, orderTemplateData{Name: vendorName, Order: order})
}

// ResetPasswordBody формирует письмо со ссылкой для сброса пароля.
func ResetPasswordBody(link string) (string, error) {
	return render(resetPasswordTmpl, struct{ Link string }{Link: link})
}
